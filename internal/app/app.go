package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jvsync/server/internal/controller"
	"github.com/jvsync/server/internal/resolver"
	"github.com/jvsync/server/internal/state"
	"github.com/jvsync/server/pkg/ctxlogger"
)

type AppConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	ProvidersUrl      string        `json:"providers_url"`
	ResolveTimeout    time.Duration `json:"resolve_timeout"`
	RefreshInterval   time.Duration `json:"refresh_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535]")
	}
	if cfg.ProvidersUrl == "" {
		return fmt.Errorf("providers url must be set")
	}
	if cfg.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve timeout must be positive")
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}),
	}

	logger := slog.New(&h)

	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	authority := state.NewAuthority(logger)
	go authority.Run(serverCtx)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	directory := resolver.NewDirectory(cfg.ProvidersUrl, httpClient, logger)
	videoResolver := resolver.NewResolver(directory, httpClient, cfg.ResolveTimeout, logger)

	go refreshLoop(serverCtx, directory, cfg.RefreshInterval, logger)

	ctrl := controller.NewController(authority, videoResolver, &controller.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, logger)

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: ctrl.Mux()}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}

// refreshLoop refreshes the provider directory at startup and then on a
// long fixed interval. A failed refresh keeps the previous snapshot.
func refreshLoop(ctx context.Context, directory *resolver.Directory, interval time.Duration, logger *slog.Logger) {
	if err := directory.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "initial provider refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := directory.Refresh(ctx); err != nil {
				logger.WarnContext(ctx, "provider refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
