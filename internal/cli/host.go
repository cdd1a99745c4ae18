package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizizz-client/internal/game"
)

// newHostCmd builds the CLI subcommand to run a room as the host.
func newHostCmd() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Control a quiz room as the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), room)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room code to control")
	return cmd
}

func runHost(ctx context.Context, room string) error {
	room = strings.ToUpper(strings.TrimSpace(room))
	if room == "" {
		return fmt.Errorf("a room code is required (--room)")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	host := game.NewHostSession(room, rt.client, log)
	defer host.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	topN := cfg.Game.LeaderboardTopN
	if topN <= 0 {
		topN = 5
	}

	fmt.Println("commands: start | next | end")
	go hostInputLoop(host, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.client.Run(gctx) })
	g.Go(func() error {
		// Closing the session unblocks the render loop when the transport
		// gives up and its channels close.
		defer host.Close()
		rt.pumpSession(host)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		defer rt.client.Close()
		renderHostView(host, topN)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func hostInputLoop(host *game.HostSession, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var err error
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			continue
		case "start":
			err = host.StartGame()
		case "next":
			err = host.NextQuestion()
		case "end":
			err = host.EndGame()
		default:
			fmt.Println("commands: start | next | end")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("command rejected")
		}
	}
}
