package config

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestLoadMemoryStoreDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SCHEDULER_TIMEZONE", "Europe/Amsterdam")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.UsesMemoryStore() {
		t.Fatal("expected memory store driver")
	}
	if cfg.GetSLADefaultHours() != 24 {
		t.Fatalf("expected default SLA of 24h, got %d", cfg.GetSLADefaultHours())
	}
	if cfg.GetApprovalTTL() != 72*time.Hour {
		t.Fatalf("unexpected approval ttl %s", cfg.GetApprovalTTL())
	}
	if cfg.GetSchedulerLocation().String() != "Europe/Amsterdam" {
		t.Fatalf("unexpected scheduler location %s", cfg.GetSchedulerLocation())
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadRejectsInvalidTimezone(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SCHEDULER_TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestKafkaAuditEnabledRequiresBrokers(t *testing.T) {
	cfg := &Config{KafkaAuditTopic: "audit"}
	if cfg.IsKafkaAuditEnabled() {
		t.Fatal("kafka audit must be disabled without brokers")
	}
	cfg.KafkaBrokers = splitCSV("kafka-1:9092, kafka-2:9092")
	if !cfg.IsKafkaAuditEnabled() || len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadPoolLimits(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_MAX_CONNS", "8")
	t.Setenv("DB_MIN_CONNS", "2")
	t.Setenv("DB_MAX_CONN_LIFETIME", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GetDBMaxConns() != 8 || cfg.GetDBMinConns() != 2 || cfg.GetDBMaxConnLifetime() != 15*time.Minute {
		t.Fatalf("unexpected pool limits %d/%d/%s", cfg.GetDBMinConns(), cfg.GetDBMaxConns(), cfg.GetDBMaxConnLifetime())
	}
	if cfg.GetDBMaxConnIdleTime() != 30*time.Minute {
		t.Fatalf("expected default idle time, got %s", cfg.GetDBMaxConnIdleTime())
	}

	t.Setenv("DB_MIN_CONNS", "9")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DB_MIN_CONNS exceeds DB_MAX_CONNS")
	}
}
