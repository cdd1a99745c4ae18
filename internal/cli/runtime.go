package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quizizz-client/internal/config"
	"quizizz-client/internal/protocol"
	"quizizz-client/internal/transport/ws"
)

// eventSink is the part of a session the transport pump feeds. Both the
// player Session and the HostSession satisfy it.
type eventSink interface {
	HandleEvent(protocol.Event)
	ConnectionLost()
	ConnectionEstablished()
}

type runtime struct {
	client *ws.Client
}

func newRuntime(cfg config.Config, log zerolog.Logger) (*runtime, error) {
	url := resolveServerURL(cfg)
	if url == "" {
		return nil, fmt.Errorf("no server URL configured (use --server or config)")
	}
	client := ws.New(ws.Options{
		URL:            url,
		Logger:         log,
		InitialBackoff: config.Duration(cfg.Reconnect.InitialDelay, time.Second),
		MaxBackoff:     config.Duration(cfg.Reconnect.MaxDelay, 5*time.Second),
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
	})
	return &runtime{client: client}, nil
}

// pumpSession forwards transport events and connectivity changes into the
// state machine until both channels close.
func (r *runtime) pumpSession(sink eventSink) {
	events := r.client.Events()
	statuses := r.client.Statuses()
	for events != nil || statuses != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			sink.HandleEvent(ev)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if st == ws.StatusConnected {
				sink.ConnectionEstablished()
			} else {
				sink.ConnectionLost()
			}
		}
	}
}
