package db

import (
	"testing"
	"time"

	"lead_lifecycle_engine/platform/config"
)

func TestPoolConfigAppliesLimits(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:       "postgres://engine@localhost:5432/engine",
		DBMaxConns:        7,
		DBMinConns:        1,
		DBMaxConnLifetime: 10 * time.Minute,
		DBMaxConnIdleTime: 2 * time.Minute,
	}
	pc, err := PoolConfig(cfg)
	if err != nil {
		t.Fatalf("pool config: %v", err)
	}
	if pc.MaxConns != 7 || pc.MinConns != 1 {
		t.Fatalf("expected 1..7 connections, got %d..%d", pc.MinConns, pc.MaxConns)
	}
	if pc.MaxConnLifetime != 10*time.Minute || pc.MaxConnIdleTime != 2*time.Minute {
		t.Fatalf("unexpected lifetimes %s / %s", pc.MaxConnLifetime, pc.MaxConnIdleTime)
	}
}

func TestPoolConfigRejectsBadURL(t *testing.T) {
	if _, err := PoolConfig(&config.Config{DatabaseURL: "postgres://engine@localhost:notaport/engine"}); err == nil {
		t.Fatal("expected parse error")
	}
}
