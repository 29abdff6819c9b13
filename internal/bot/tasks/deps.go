// Package tasks implements scheduled background tasks for RouterBot: database
// maintenance, daily statistics rollup, and idle wizard session cleanup.
package tasks

import (
	"log/slog"

	"github.com/mkhalifa/routerbot/internal/config"
	"github.com/mkhalifa/routerbot/internal/database"
	"github.com/mkhalifa/routerbot/internal/wizard"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Wizard *wizard.Wizard
	Config *config.Config
}
