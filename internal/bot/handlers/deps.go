package handlers

import (
	"log/slog"

	"github.com/mkhalifa/routerbot/internal/config"
	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/events"
	"github.com/mkhalifa/routerbot/internal/openrouter"
	"github.com/mkhalifa/routerbot/internal/registry"
	"github.com/mkhalifa/routerbot/internal/wizard"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Registry *registry.Registry
	Wizard   *wizard.Wizard
	AIClient openrouter.Client
	Audit    events.Logger
}
