package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/p-n-ai/geoquiz-bot/internal/chat"
	"github.com/p-n-ai/geoquiz-bot/internal/game"
	"github.com/p-n-ai/geoquiz-bot/internal/geo"
	"github.com/p-n-ai/geoquiz-bot/internal/platform/cache"
	"github.com/p-n-ai/geoquiz-bot/internal/platform/config"
	"github.com/p-n-ai/geoquiz-bot/internal/platform/logger"
	"github.com/p-n-ai/geoquiz-bot/internal/quiz"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	l, syncLog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(l)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		_ = syncLog()
		os.Exit(1)
	}
	_ = syncLog()
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	set, err := loadQuestionSet(cfg.Quiz.Set)
	if err != nil {
		return err
	}

	checks := map[string]healthChecker{}
	store, closeStore, err := newSessionStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	geocoder := geo.NewNominatimClient(cfg.Geocoder.URL,
		geo.WithUserAgent(cfg.Geocoder.UserAgent),
		geo.WithTimeout(cfg.Geocoder.Timeout),
	)

	gateway := chat.NewGateway()
	engine := game.NewEngine(game.EngineConfig{
		Set:      set,
		Resolver: geo.NewResolver(geocoder),
		Sender:   gateway,
		Store:    store,
	})

	var ws http.Handler
	if cfg.WebSocket.Enabled {
		wsChannel := chat.NewWebSocketChannel(cfg.WebSocket.OriginPatterns)
		gateway.Register("websocket", wsChannel)
		ws = wsChannel
	}
	if cfg.Telegram.BotToken != "" {
		tg, err := chat.NewTelegramChannel(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		if err := tg.SyncCommands(); err != nil {
			slog.Warn("failed to publish telegram commands", "error", err)
		}
		gateway.Register("telegram", tg)
	}

	if err := gateway.StartAll(ctx, func(msg chat.InboundMessage) {
		engine.HandleMessage(ctx, msg)
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newMux(ws, checks),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "question_set", set.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = gateway.StopAll()
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gateway.StopAll(); err != nil {
		slog.Error("failed to stop channels", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	engine.Wait()
	return nil
}

// loadQuestionSet picks the configured set and reports its answer-key
// defects. Defects are logged, never fixed.
func loadQuestionSet(name string) (quiz.QuestionSet, error) {
	bank, err := quiz.LoadBank()
	if err != nil {
		return quiz.QuestionSet{}, fmt.Errorf("loading question bank: %w", err)
	}
	set, err := bank.Set(name)
	if err != nil {
		return quiz.QuestionSet{}, fmt.Errorf("GEOQUIZ_QUIZ_SET: %w (available: %v)", err, bank.SetNames())
	}
	for _, fd := range quiz.Audit(set) {
		slog.Warn("answer key defect",
			"set", fd.Set,
			"country", fd.Country,
			"question", fd.Index+1,
			"kind", fd.Kind,
			"answer", fd.Answer,
		)
	}
	return set, nil
}

// newSessionStore returns a Redis store when a cache URL is configured and a
// swept memory store otherwise. The Redis connection is added to checks.
func newSessionStore(ctx context.Context, cfg *config.Config, checks map[string]healthChecker) (game.SessionStore, func(), error) {
	if cfg.Cache.URL == "" {
		mem := game.NewMemoryStore(cfg.Session.TTL)
		if err := mem.StartSweeper(cfg.Session.SweepSchedule); err != nil {
			return nil, nil, err
		}
		slog.Info("sessions kept in memory", "ttl", cfg.Session.TTL)
		return mem, func() { _ = mem.Close() }, nil
	}

	c, err := cache.New(ctx, cfg.Cache.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to cache: %w", err)
	}
	checks["cache"] = c
	slog.Info("sessions kept in cache", "ttl", cfg.Session.TTL)
	return game.NewRedisStore(c.Client, cfg.Session.TTL), func() {
		if err := c.Close(); err != nil {
			slog.Error("failed to close cache", "error", err)
		}
	}, nil
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// newMux creates the HTTP router with health check endpoints and, when ws is
// set, the WebSocket endpoint.
func newMux(ws http.Handler, checks map[string]healthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks map[string]healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		for name, c := range checks {
			if err := c.HealthCheck(ctx); err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"unavailable","check":%q}`, name)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
