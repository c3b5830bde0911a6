// Package server exposes the operator surface over HTTP/JSON.
package server

import (
	"log/slog"

	"github.com/groblegark/warden/internal/gatekeeper"
	"github.com/groblegark/warden/internal/lockdown"
	"github.com/groblegark/warden/internal/store"
)

// WardenServer wires the engine services behind the HTTP handlers.
type WardenServer struct {
	store  store.Store
	gate   *gatekeeper.Service
	locks  *lockdown.Manager
	logger *slog.Logger
}

func NewWardenServer(st store.Store, gate *gatekeeper.Service, locks *lockdown.Manager, logger *slog.Logger) *WardenServer {
	return &WardenServer{
		store:  st,
		gate:   gate,
		locks:  locks,
		logger: logger,
	}
}
