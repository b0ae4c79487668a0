package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pingchat/internal/api"
	"pingchat/internal/chat"
	"pingchat/internal/config"
	"pingchat/internal/db"
	"pingchat/internal/websocket"
)

var rootCmd = &cobra.Command{
	Use:               "ping",
	Short:             "Terminal client for the Ping chat service",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	cfg *config.Config

	flagBackend   string
	flagSocket    string
	flagSessionDB string
	flagLogLevel  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagBackend, "backend", "", "backend base URL (env PING_BACKEND_URL)")
	flags.StringVar(&flagSocket, "socket", "", "realtime endpoint; derived from --backend when empty (env PING_SOCKET_URL)")
	flags.StringVar(&flagSessionDB, "session-db", "", "session database path (env PING_SESSION_DB)")
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (env PING_LOG_LEVEL)")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	cfg = config.Load()
	if flagBackend != "" {
		cfg.BackendURL = strings.TrimSuffix(flagBackend, "/")
		if flagSocket == "" {
			cfg.SocketURL = config.SocketURLFor(cfg.BackendURL)
		}
	}
	if flagSocket != "" {
		cfg.SocketURL = flagSocket
	}
	if flagSessionDB != "" {
		cfg.UpdateDatabasePath(flagSessionDB)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// client is the wired application for one command invocation.
type client struct {
	store   *db.DB
	channel *websocket.Channel
	app     *chat.App
}

func openClient(view chat.View) (*client, error) {
	store, err := db.NewDB(cfg.CleanDatabasePath())
	if err != nil {
		return nil, err
	}
	channel := websocket.NewChannel(websocket.Options{
		URL:         cfg.SocketURL,
		MaxAttempts: cfg.ReconnectAttempts,
	})
	backend := api.NewClient(cfg.BackendURL, cfg.RequestTimeout)
	app := chat.New(store, backend, channel, view, chat.Options{TypingIdle: cfg.TypingIdle})
	return &client{store: store, channel: channel, app: app}, nil
}

// close disconnects without forgetting the session.
func (c *client) close() {
	c.channel.Close()
	if err := c.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close session database")
	}
}
