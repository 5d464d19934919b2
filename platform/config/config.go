// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDBMaxConns() int32
	GetDBMinConns() int32
	GetDBMaxConnLifetime() time.Duration
	GetDBMaxConnIdleTime() time.Duration
}

// SchedulerConfig provides redis/asynq settings for the task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EngineConfig provides lifecycle engine tuning.
type EngineConfig interface {
	GetSLADefaultHours() int
	GetSLASweepInterval() time.Duration
	GetApprovalTTL() time.Duration
	GetApprovalSweepInterval() time.Duration
	GetSchedulerWorkers() int
	GetSchedulerLocation() *time.Location
	GetScheduledBatchLimit() int
	GetSeedFile() string
}

// EmailConfig provides SMTP settings for notification email.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// SMSConfig provides settings for the SMS gateway.
type SMSConfig interface {
	GetSMSGatewayURL() string
	GetSMSGatewayKey() string
	GetSMSDefaultRegion() string
	IsSMSEnabled() bool
}

// NotificationConfig provides dispatch throttling settings.
type NotificationConfig interface {
	GetNotifyRatePerSecond() float64
}

// AuditConfig provides settings for the kafka audit stream.
type AuditConfig interface {
	GetKafkaBrokers() []string
	GetKafkaAuditTopic() string
	IsKafkaAuditEnabled() bool
}

// ExportConfig provides MinIO settings for scheduled report exports.
type ExportConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetReportExportBucket() string
	IsMinIOEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	StoreDriver           string
	DatabaseURL           string
	DBMaxConns            int
	DBMinConns            int
	DBMaxConnLifetime     time.Duration
	DBMaxConnIdleTime     time.Duration
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	SLADefaultHours       int
	SLASweepInterval      time.Duration
	ApprovalTTL           time.Duration
	ApprovalSweepInterval time.Duration
	SchedulerWorkers      int
	SchedulerTimezone     string
	ScheduledBatchLimit   int
	SeedFile              string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailFromName         string
	EmailFromAddress      string
	SMSGatewayURL         string
	SMSGatewayKey         string
	SMSDefaultRegion      string
	NotifyRatePerSecond   float64
	KafkaBrokers          []string
	KafkaAuditTopic       string
	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOUseSSL           bool
	ReportExportBucket    string
	CORSAllowAll          bool
	CORSOrigins           []string

	location *time.Location
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string               { return c.DatabaseURL }
func (c *Config) GetDBMaxConns() int32                 { return int32(c.DBMaxConns) }
func (c *Config) GetDBMinConns() int32                 { return int32(c.DBMinConns) }
func (c *Config) GetDBMaxConnLifetime() time.Duration { return c.DBMaxConnLifetime }
func (c *Config) GetDBMaxConnIdleTime() time.Duration { return c.DBMaxConnIdleTime }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }
func (c *Config) IsTaskQueueEnabled() bool   { return c.RedisURL != "" }
func (c *Config) UsesMemoryStore() bool      { return c.StoreDriver == StoreDriverMemory }

// EngineConfig implementation
func (c *Config) GetSLADefaultHours() int                  { return c.SLADefaultHours }
func (c *Config) GetSLASweepInterval() time.Duration       { return c.SLASweepInterval }
func (c *Config) GetApprovalTTL() time.Duration            { return c.ApprovalTTL }
func (c *Config) GetApprovalSweepInterval() time.Duration  { return c.ApprovalSweepInterval }
func (c *Config) GetSchedulerWorkers() int                 { return c.SchedulerWorkers }
func (c *Config) GetScheduledBatchLimit() int              { return c.ScheduledBatchLimit }
func (c *Config) GetSeedFile() string                      { return c.SeedFile }
func (c *Config) GetSchedulerLocation() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" }

// SMSConfig implementation
func (c *Config) GetSMSGatewayURL() string    { return c.SMSGatewayURL }
func (c *Config) GetSMSGatewayKey() string    { return c.SMSGatewayKey }
func (c *Config) GetSMSDefaultRegion() string { return c.SMSDefaultRegion }
func (c *Config) IsSMSEnabled() bool          { return c.SMSGatewayURL != "" }

// NotificationConfig implementation
func (c *Config) GetNotifyRatePerSecond() float64 { return c.NotifyRatePerSecond }

// AuditConfig implementation
func (c *Config) GetKafkaBrokers() []string  { return c.KafkaBrokers }
func (c *Config) GetKafkaAuditTopic() string { return c.KafkaAuditTopic }
func (c *Config) IsKafkaAuditEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaAuditTopic != ""
}

// ExportConfig implementation
func (c *Config) GetMinIOEndpoint() string      { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string     { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string     { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool          { return c.MinIOUseSSL }
func (c *Config) GetReportExportBucket() string { return c.ReportExportBucket }
func (c *Config) IsMinIOEnabled() bool          { return c.MinIOEndpoint != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		DBMaxConns:            mustInt(getEnv("DB_MAX_CONNS", "25")),
		DBMinConns:            mustInt(getEnv("DB_MIN_CONNS", "2")),
		DBMaxConnLifetime:     mustDuration(getEnv("DB_MAX_CONN_LIFETIME", "1h")),
		DBMaxConnIdleTime:     mustDuration(getEnv("DB_MAX_CONN_IDLE_TIME", "30m")),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "lifecycle"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SLADefaultHours:       mustInt(getEnv("SLA_DEFAULT_HOURS", "24")),
		SLASweepInterval:      mustDuration(getEnv("SLA_SWEEP_INTERVAL", "5m")),
		ApprovalTTL:           mustDuration(getEnv("APPROVAL_TTL", "72h")),
		ApprovalSweepInterval: mustDuration(getEnv("APPROVAL_SWEEP_INTERVAL", "5m")),
		SchedulerWorkers:      mustInt(getEnv("SCHEDULER_WORKERS", "4")),
		SchedulerTimezone:     getEnv("SCHEDULER_TIMEZONE", "UTC"),
		ScheduledBatchLimit:   mustInt(getEnv("SCHEDULED_BATCH_LIMIT", "500")),
		SeedFile:              getEnv("ENGINE_SEED_FILE", ""),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Lead Engine"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		SMSGatewayURL:         getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayKey:         getEnv("SMS_GATEWAY_KEY", ""),
		SMSDefaultRegion:      getEnv("SMS_DEFAULT_REGION", "NL"),
		NotifyRatePerSecond:   mustFloat(getEnv("NOTIFY_RATE_PER_SECOND", "5")),
		KafkaBrokers:          splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaAuditTopic:       getEnv("KAFKA_AUDIT_TOPIC", "lead-engine-audit"),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:           strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		ReportExportBucket:    getEnv("REPORT_EXPORT_BUCKET", "lead-reports"),
		CORSAllowAll:          containsWildcard(corsOrigins),
		CORSOrigins:           corsOrigins,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, and DB_MAX_CONNS at least 1")
	}
	if c.SLADefaultHours <= 0 {
		return fmt.Errorf("SLA_DEFAULT_HOURS must be positive")
	}
	if c.SLASweepInterval <= 0 || c.ApprovalSweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive durations")
	}
	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL must be a positive duration")
	}
	if c.SchedulerWorkers < 1 {
		c.SchedulerWorkers = 1
	}
	if c.IsEmailEnabled() && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP_HOST is set")
	}

	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	c.location = loc
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
