// Package main contains the entrypoint for the RouterBot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/mkhalifa/routerbot/internal/bot"
	"github.com/mkhalifa/routerbot/internal/bot/handlers"
	"github.com/mkhalifa/routerbot/internal/bot/tasks"
	"github.com/mkhalifa/routerbot/internal/config"
	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/events"
	"github.com/mkhalifa/routerbot/internal/logger"
	"github.com/mkhalifa/routerbot/internal/openrouter"
	"github.com/mkhalifa/routerbot/internal/registry"
	"github.com/mkhalifa/routerbot/internal/settings"
	"github.com/mkhalifa/routerbot/internal/telegram"
	"github.com/mkhalifa/routerbot/internal/wizard"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// registry, AI client, bot, scheduler), handles graceful shutdown, and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	set, err := settings.New(cfg.Registry.SettingsPath, cfg.AI.DefaultModel, log)
	if err != nil {
		log.Error("Failed to load settings", "path", cfg.Registry.SettingsPath, "error", err)
		return 1
	}

	builtins := []registry.Descriptor{
		{ID: cfg.AI.DefaultModel, DisplayName: cfg.AI.DefaultModel},
	}
	reg := registry.New(store, set, cfg.Registry.MirrorPath, builtins, log)
	if err := reg.Load(ctx); err != nil {
		log.Error("Failed to load model registry", "error", err)
		return 1
	}

	aiClient, err := openrouter.NewClient(cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize OpenRouter client", "error", err)
		return 1
	}

	// The default handler is bound after the wizard exists; the wizard's
	// conversational surface needs the bot instance itself.
	var defaultHandler tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
			if defaultHandler != nil {
				defaultHandler(ctx, b, update)
			}
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	audit := events.NewTelegramLogger(tg, cfg.Telegram.AuditChatID, log)
	surface := handlers.NewTelegramSurface(tg)
	wiz := wizard.New(reg, surface, audit, cfg.Wizard.IdleTimeout, log)

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Registry: reg,
		Wizard:   wiz,
		AIClient: aiClient,
		Audit:    audit,
	}
	defaultHandler = handlers.NewChatHandler(hDeps)

	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Wizard: wiz,
		Config: cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, db, store, reg, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
