package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpapi "github.com/immxrtalbeast/chatsync/internal/api/http"
	"github.com/immxrtalbeast/chatsync/internal/api/rest"
	"github.com/immxrtalbeast/chatsync/internal/call"
	"github.com/immxrtalbeast/chatsync/internal/channel"
	"github.com/immxrtalbeast/chatsync/internal/config"
	"github.com/immxrtalbeast/chatsync/internal/service"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
	"github.com/immxrtalbeast/chatsync/lib/logger/slogpretty"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	userID := os.Getenv("CHAT_USER_ID")
	token := os.Getenv("CHAT_TOKEN")
	if userID == "" || token == "" {
		log.Error("CHAT_USER_ID and CHAT_TOKEN are required")
		os.Exit(1)
	}

	api := rest.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	ch := channel.New(cfg.Socket.URL, channel.Options{
		ReconnectBase: cfg.Socket.ReconnectBase,
		ReconnectMax:  cfg.Socket.ReconnectMax,
		MaxAttempts:   cfg.Socket.ReconnectAttempts,
	}, log)

	sync := service.NewSyncService(
		api,
		ch,
		call.StaticSource{},
		call.NewWebRTCFactory(cfg.WebRTC.STUNServers),
		service.Options{
			TypingDebounce: cfg.Sync.TypingDebounce,
			TypingExpiry:   cfg.Sync.TypingExpiry,
			EndedLinger:    cfg.Sync.EndedLinger,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sync.Start(ctx, userID, token); err != nil {
		log.Error("failed to start sync", sl.Err(err))
		os.Exit(1)
	}
	defer sync.Stop()

	if cfg.Debug.Address != "" {
		router := httpapi.SetupRouter(httpapi.NewDebugController(sync))
		go func() {
			log.Info("debug endpoint listening", slog.String("addr", cfg.Debug.Address))
			if err := router.Run(cfg.Debug.Address); err != nil {
				log.Error("debug endpoint stopped", sl.Err(err))
			}
		}()
	}

	log.Info("chatsync running", slog.String("socket", cfg.Socket.URL))
	<-ctx.Done()
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
