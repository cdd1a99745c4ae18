package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizizz-client/internal/config"
	"quizizz-client/internal/domain"
	"quizizz-client/internal/game"
	memorystore "quizizz-client/internal/infra/memory"
	redisstore "quizizz-client/internal/infra/redis"
)

// newPlayCmd builds the CLI subcommand to join a room as a player.
func newPlayCmd() *cobra.Command {
	var (
		room     string
		nickname string
		resume   bool
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a quiz room and play",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), room, nickname, resume)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room code to join")
	cmd.Flags().StringVar(&nickname, "name", "", "display name (2-20 characters)")
	cmd.Flags().BoolVar(&resume, "resume", false, "rejoin the last stored game attempt")
	return cmd
}

func runPlay(ctx context.Context, room, nickname string, resume bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	store := identityStore(cfg)

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	session := game.NewSession(rt.client, game.Config{
		FeedbackDelay:      config.Duration(cfg.Game.FeedbackDelay, 2*time.Second),
		LeaderboardDismiss: config.Duration(cfg.Game.LeaderboardDismiss, 5*time.Second),
		Logger:             log,
	})
	defer session.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if resume {
		identity, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if err := session.Resume(identity); err != nil {
			return err
		}
		log.Info().Str("room", identity.RoomCode).Str("name", identity.Nickname).Msg("resuming game attempt")
	} else {
		identity := domain.SessionIdentity{
			RoomCode:  strings.ToUpper(strings.TrimSpace(room)),
			Nickname:  strings.TrimSpace(nickname),
			AttemptID: uuid.NewString(),
		}
		if err := session.Join(identity); err != nil {
			return err
		}
		if err := store.Save(ctx, identity); err != nil {
			log.Warn().Err(err).Msg("could not persist session identity")
		}
	}

	topN := cfg.Game.LeaderboardTopN
	if topN <= 0 {
		topN = 5
	}

	go answerInputLoop(session, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.client.Run(gctx) })
	g.Go(func() error {
		// Closing the session unblocks the render loop when the transport
		// gives up and its channels close.
		defer session.Close()
		rt.pumpSession(session)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		defer rt.client.Close()
		done := renderPlayerView(session, topN)
		if done {
			// Game reached its final ranking; the attempt cannot be resumed.
			if err := store.Clear(context.Background()); err != nil {
				log.Warn().Err(err).Msg("could not clear stored identity")
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// answerInputLoop reads A-D (or 0-3) selections from stdin. It is detached:
// stdin reads cannot be cancelled, the process exits when play finishes.
func answerInputLoop(session *game.Session, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		idx, ok := parseAnswer(line)
		if !ok {
			fmt.Println("answer with a, b, c, or d")
			continue
		}
		if err := session.SelectAnswer(idx); err != nil {
			log.Warn().Err(err).Msg("answer rejected")
		}
	}
}

func parseAnswer(line string) (int, bool) {
	switch line {
	case "a", "0":
		return 0, true
	case "b", "1":
		return 1, true
	case "c", "2":
		return 2, true
	case "d", "3":
		return 3, true
	}
	return 0, false
}

// identityStore picks Redis when configured, mirroring how the server picks
// its stores, and falls back to a process-local one.
func identityStore(cfg config.Config) game.IdentityStore {
	if cfg.Redis.Addr == "" {
		return memorystore.NewIdentityStore()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ttl := config.Duration(cfg.Redis.TTL, time.Hour)
	return redisstore.NewIdentityStore(client, clientID(), ttl)
}

func clientID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
