package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/freemre/avatargen/internal/altspace"
	"github.com/freemre/avatargen/internal/config"
	"github.com/freemre/avatargen/internal/mailer"
	"github.com/freemre/avatargen/internal/notify"
	"github.com/freemre/avatargen/internal/pipeline"
	"github.com/freemre/avatargen/internal/render"
	"github.com/freemre/avatargen/internal/requestlog"
	"github.com/freemre/avatargen/internal/server"
	"github.com/freemre/avatargen/internal/server/routes"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return
	}

	reqLog, err := requestlog.Open(cfg.RequestLog.Path)
	if err != nil {
		slog.Error("Failed to open request log", "error", err)
		return
	}
	defer func() {
		if err := reqLog.Close(); err != nil {
			slog.Error("Failed to close request log", "error", err)
		}
	}()

	upstream := altspace.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Email, cfg.Upstream.Password, clockwork.NewRealClock())
	quota := render.NewQuota(cfg.Render.OutputRoot, cfg.Render.QuotaLimit)
	invoker := render.NewInvoker(
		cfg.Render.BlenderPath,
		cfg.Render.ScenePath,
		cfg.Render.ScriptPath,
		cfg.Render.OutputRoot,
		cfg.Render.Preview,
		cfg.Render.Slots,
		cfg.RenderTimeout(),
	)

	deliverer, err := mailer.New(cfg.Mail)
	if err != nil {
		slog.Error("Failed to configure mailer", "error", err)
		return
	}

	sink := notify.NewSink(cfg.Notify.WebhookURL)
	if !sink.Enabled() {
		slog.Warn("NOTIFY_WEBHOOK_URL not set, operational notifications disabled")
	}

	orchestrator := pipeline.NewOrchestrator(upstream, quota, invoker, deliverer, sink, reqLog)

	srv := server.New(log)
	srv.RegisterRouter(routes.NewAvatarRoutes(orchestrator, cfg.Render.OutputRoot, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port, "render_slots", cfg.Render.Slots, "quota_limit", cfg.Render.QuotaLimit)
	slog.Error("Closing server", "error", srv.Start(addr))
}
