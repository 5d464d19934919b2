// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"lead_lifecycle_engine/platform/config"
	"lead_lifecycle_engine/platform/logger"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NopHealth reports healthy; used when there is no database to ping.
type NopHealth struct{}

func (NopHealth) Ping(context.Context) error { return nil }

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the HTTP settings.
	Config config.HTTPConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness checks (e.g., DB ping).
	Health HealthChecker
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
