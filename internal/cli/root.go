package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quizizz-client/internal/config"
)

var (
	serverURL  string
	configPath string
	verbose    bool
)

const defaultConfigPath = "config/config.yaml"

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envServer := os.Getenv("QUIZ_SERVER_URL")
	if envServer == "" {
		envServer = "ws://localhost:3001/ws"
	}
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = defaultConfigPath
	}

	cmd := &cobra.Command{
		Use:   "quiz-client",
		Short: "Terminal client for live multiplayer quiz rooms",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", envServer, "websocket URL of the session server")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(newPlayCmd())
	cmd.AddCommand(newHostCmd())
	return cmd
}

// loadConfig reads the config file; a missing file at the default path is not
// an error, flags and defaults cover everything.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if os.IsNotExist(err) && configPath == defaultConfigPath {
			return config.Config{}, nil
		}
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func resolveServerURL(cfg config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	return cfg.Server.URL
}
