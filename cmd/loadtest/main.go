package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pingchat/internal/api"
	"pingchat/internal/config"
	"pingchat/internal/fakebackend"
	"pingchat/internal/models"
	"pingchat/internal/websocket"
)

var rootCmd = &cobra.Command{
	Use:          "loadtest",
	Short:        "Drive simulated chat clients against a backend",
	SilenceUsage: true,
	RunE:         runLoadTest,
}

var (
	flagUsers    int
	flagRate     float64
	flagDuration time.Duration
	flagBatch    int
	flagBackend  string
	flagLocal    bool
)

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&flagUsers, "users", 100, "number of simulated users")
	flags.Float64Var(&flagRate, "rate", 1, "operations per second per user")
	flags.DurationVar(&flagDuration, "duration", time.Minute, "how long to run the simulation")
	flags.IntVar(&flagBatch, "batch", 10, "registrations and logins in flight at once")
	flags.StringVar(&flagBackend, "backend", "", "backend base URL (env PING_BACKEND_URL)")
	flags.BoolVar(&flagLocal, "local", false, "run against an in-process backend")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// simUser is one logged-in client with its own channel.
type simUser struct {
	user    *models.User
	client  *api.Client
	channel *websocket.Channel

	mu      sync.Mutex
	pending map[models.MessageID]time.Time
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if flagBackend != "" {
		cfg.BackendURL = flagBackend
		cfg.SocketURL = config.SocketURLFor(flagBackend)
	}
	if flagLocal {
		srv := fakebackend.New()
		defer srv.Close()
		cfg.BackendURL, cfg.SocketURL = srv.URL, srv.SocketURL()
	}
	if flagUsers < 2 {
		return fmt.Errorf("need at least 2 users, got %d", flagUsers)
	}
	if flagRate <= 0 {
		return fmt.Errorf("rate must be positive")
	}

	log.Info().
		Int("users", flagUsers).
		Float64("rate", flagRate).
		Dur("duration", flagDuration).
		Str("backend", cfg.BackendURL).
		Msg("starting load test")

	stats := &Stats{}
	users, err := setupUsers(ctx, cfg, stats)
	if err != nil {
		return err
	}
	defer func() {
		for _, u := range users {
			u.channel.Close()
		}
	}()

	simCtx, cancel := context.WithTimeout(ctx, flagDuration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u *simUser) {
			defer wg.Done()
			simulateUser(simCtx, u, users, stats)
		}(u)
	}
	wg.Wait()
	duration := time.Since(start)

	unconfirmed := 0
	for _, u := range users {
		u.mu.Lock()
		unconfirmed += len(u.pending)
		u.mu.Unlock()
	}
	stats.report(duration, unconfirmed)
	return nil
}

// setupUsers registers and logs in every simulated user, flagBatch at a time,
// and connects their channels.
func setupUsers(ctx context.Context, cfg *config.Config, stats *Stats) ([]*simUser, error) {
	run := time.Now().Unix()
	users := make([]*simUser, flagUsers)

	startTime := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flagBatch)
	var failed int
	var failMu sync.Mutex
	for i := 0; i < flagUsers; i++ {
		i := i
		g.Go(func() error {
			u, err := newSimUser(gctx, cfg, fmt.Sprintf("loadtest_user_%d_%d", run, i), stats)
			if err != nil {
				failMu.Lock()
				failed++
				if failed <= 10 {
					log.Warn().Err(err).Int("user", i).Msg("user setup failed")
				}
				failMu.Unlock()
				return nil
			}
			users[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ready := make([]*simUser, 0, len(users))
	for _, u := range users {
		if u != nil {
			ready = append(ready, u)
		}
	}
	setup := time.Since(startTime)
	log.Info().
		Int("ready", len(ready)).
		Int("failed", failed).
		Dur("took", setup).
		Float64("users_per_sec", float64(len(ready))/setup.Seconds()).
		Msg("user setup complete")

	if len(ready) < flagUsers/2 || len(ready) < 2 {
		for _, u := range ready {
			u.channel.Close()
		}
		return nil, fmt.Errorf("too many setup failures (%d/%d ready), aborting", len(ready), flagUsers)
	}
	return ready, nil
}

func newSimUser(ctx context.Context, cfg *config.Config, username string, stats *Stats) (*simUser, error) {
	const password = "testpass123"

	client := api.NewClient(cfg.BackendURL, cfg.RequestTimeout)
	if err := client.Register(ctx, username, password); err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	user, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	client.SetToken(user.Token)

	u := &simUser{
		user:   user,
		client: client,
		channel: websocket.NewChannel(websocket.Options{
			URL:         cfg.SocketURL,
			MaxAttempts: cfg.ReconnectAttempts,
		}),
		pending: make(map[models.MessageID]time.Time),
	}
	u.channel.On(models.EventMessageSent, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		u.mu.Lock()
		sent, ok := u.pending[msg.ID]
		delete(u.pending, msg.ID)
		u.mu.Unlock()
		if ok {
			stats.observe(opSend, time.Since(sent))
		}
	})

	connected := make(chan struct{})
	var once sync.Once
	u.channel.On(models.EventConnect, func(json.RawMessage) { once.Do(func() { close(connected) }) })
	if err := u.channel.Connect(context.Background(), user.ID); err != nil {
		return nil, err
	}
	select {
	case <-connected:
		return u, nil
	case <-time.After(cfg.RequestTimeout):
		u.channel.Close()
		return nil, fmt.Errorf("connect %s: timed out", username)
	case <-ctx.Done():
		u.channel.Close()
		return nil, ctx.Err()
	}
}

func simulateUser(ctx context.Context, u *simUser, users []*simUser, stats *Stats) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / flagRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peer := users[rand.Intn(len(users))]
		if peer == u {
			continue
		}

		// Randomly choose between read and write operations
		if rand.Float32() < 0.5 {
			msg := models.Message{
				ID:     models.MessageID(uuid.NewString()),
				From:   u.user.ID,
				To:     peer.user.ID,
				Text:   fmt.Sprintf("Test message from user %d at %s", u.user.ID, time.Now().Format(time.RFC3339)),
				Time:   time.Now().Format("15:04"),
				Status: models.StatusSent,
			}
			u.mu.Lock()
			u.pending[msg.ID] = time.Now()
			u.mu.Unlock()
			if !u.channel.Send(models.EventSendMessage, msg) {
				u.mu.Lock()
				delete(u.pending, msg.ID)
				u.mu.Unlock()
				stats.fail(opSend)
			}
			continue
		}

		start := time.Now()
		_, err := u.client.Messages(ctx, u.user.ID, peer.user.ID)
		latency := time.Since(start)
		if err != nil {
			if ctx.Err() == nil {
				stats.fail(opRead)
				log.Debug().Err(err).Msg("error reading messages")
			}
			continue
		}
		stats.observe(opRead, latency)
	}
}
