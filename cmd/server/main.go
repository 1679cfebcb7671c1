package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Tyrowin/palmchat/internal/auth"
	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/config"
	"github.com/Tyrowin/palmchat/internal/logging"
	"github.com/Tyrowin/palmchat/internal/server"
	"github.com/Tyrowin/palmchat/internal/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	os.Exit(run(cfg, log))
}

func run(cfg config.Config, log *slog.Logger) int {
	log.Info("starting PalmChat server",
		"port", cfg.Port,
		"origins", cfg.AllowedOrigins,
		"badger_path", cfg.BadgerPath,
		"queue_size", cfg.OutboundQueueSize,
	)
	if cfg.JWTSecret == config.DevJWTSecret {
		log.Warn("JWT_SECRET is not set, using the development secret")
	}

	db, err := store.Open(cfg.BadgerPath, log)
	if err != nil {
		log.Error("failed to open database", "path", cfg.BadgerPath, "error", err)
		return 1
	}
	users := store.NewUserStore(db, log)
	messages := store.NewMessageStore(db, log)

	hub := server.NewHub(log)
	go hub.Run()

	chatSvc := chat.NewService(log, messages, users, hub, cfg.HistoryLimit)
	accounts := auth.NewService(log, users, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL), cfg.AdminUsernames)

	srv := server.New(log, hub, chatSvc, accounts, cfg)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"palmchat": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				var errs []error
				if err := server.ShutdownServer(ctx, httpServer, log); err != nil {
					errs = append(errs, err)
				}
				if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
					errs = append(errs, err)
				}
				if err := db.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close database: %w", err))
				}
				return errors.Join(errs...)
			},
		},
	)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("server failed", "error", err)
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			_ = db.Close()
			return 1
		}
		return <-wait
	case exitCode := <-wait:
		log.Info("server exited", "code", exitCode)
		return exitCode
	}
}
