package adapters

import (
	"context"

	"lead_lifecycle_engine/internal/audit"

	"github.com/google/uuid"
)

// AuditLog is an audit store that can be read back per lead.
type AuditLog interface {
	audit.Writer
	ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]audit.Entry, error)
}

// StreamedAuditLog writes to the primary log and every extra sink while
// reads go to the primary log only.
type StreamedAuditLog struct {
	primary AuditLog
	writer  audit.Writer
}

// NewStreamedAuditLog returns primary unchanged when there are no sinks.
func NewStreamedAuditLog(primary AuditLog, sinks ...audit.Writer) AuditLog {
	if len(sinks) == 0 {
		return primary
	}
	writers := append([]audit.Writer{primary}, sinks...)
	return &StreamedAuditLog{primary: primary, writer: audit.NewMultiWriter(writers...)}
}

func (s *StreamedAuditLog) Write(ctx context.Context, entry audit.Entry) error {
	return s.writer.Write(ctx, entry)
}

func (s *StreamedAuditLog) ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]audit.Entry, error) {
	return s.primary.ListForLead(ctx, leadID, limit)
}
