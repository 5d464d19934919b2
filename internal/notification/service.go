package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"lead_lifecycle_engine/internal/routing"
	"lead_lifecycle_engine/internal/workflow"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Directory looks up the people a notification can be addressed to.
type Directory interface {
	Owners(ctx context.Context, activeOnly bool) ([]routing.Owner, error)
}

// Options tune delivery. Zero values fall back to defaults.
type Options struct {
	RatePerSecond  float64
	BatchSize      int
	PollInterval   time.Duration
	EscalationRole string
	Now            func() time.Time
}

// Service queues messages and delivers them through the registered senders.
type Service struct {
	outbox         Outbox
	directory      Directory
	senders        map[Channel]Sender
	limiter        *rate.Limiter
	batchSize      int
	pollInterval   time.Duration
	escalationRole string
	now            func() time.Time
	log            *logger.Logger
}

func New(outbox Outbox, directory Directory, log *logger.Logger, opts Options) *Service {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.EscalationRole == "" {
		opts.EscalationRole = "manager"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		outbox:         outbox,
		directory:      directory,
		senders:        make(map[Channel]Sender),
		limiter:        rate.NewLimiter(limit, 1),
		batchSize:      opts.BatchSize,
		pollInterval:   opts.PollInterval,
		escalationRole: opts.EscalationRole,
		now:            opts.Now,
		log:            log.WithComponent("notification"),
	}
}

// RegisterSender sets the sender for a channel.
func (s *Service) RegisterSender(ch Channel, sender Sender) {
	s.senders[ch] = sender
}

// Queue validates msg and stores it as pending.
func (s *Service) Queue(ctx context.Context, msg Message) (Message, error) {
	if msg.Channel != ChannelEmail && msg.Channel != ChannelSMS {
		return Message{}, apperr.Validation("unknown notification channel").WithDetail("channel", string(msg.Channel))
	}
	msg.Recipient = strings.TrimSpace(msg.Recipient)
	if msg.Recipient == "" {
		return Message{}, apperr.Validation("notification recipient is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Message{}, apperr.Validation("notification body is required")
	}
	if msg.Kind == "" {
		msg.Kind = KindWorkflowAction
	}
	msg.ID = uuid.New()
	msg.Status = StatusPending
	msg.Attempts = 0
	msg.LastError = nil
	msg.SentAt = nil
	msg.CreatedAt = s.now().UTC()

	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// List returns recent outbox messages, optionally for one lead.
func (s *Service) List(ctx context.Context, leadID *uuid.UUID, limit int) ([]Message, error) {
	return s.outbox.List(ctx, leadID, limit)
}

type escalationData struct {
	Name       string
	LeadID     uuid.UUID
	OwnerName  string
	AssignedAt time.Time
	Deadline   time.Time
}

// NotifySLAEscalated tells the owner and every active escalation-role owner
// that a lead missed its first-contact deadline.
func (s *Service) NotifySLAEscalated(ctx context.Context, owner routing.Owner, state routing.SLAState) error {
	recipients := []routing.Owner{owner}
	managers, err := s.byRole(ctx, s.escalationRole)
	if err != nil {
		return err
	}
	for _, m := range managers {
		if m.ID != owner.ID {
			recipients = append(recipients, m)
		}
	}

	var errs []error
	for _, r := range recipients {
		data := escalationData{
			Name:       r.Name,
			LeadID:     state.LeadID,
			OwnerName:  owner.Name,
			AssignedAt: state.AssignedAt,
			Deadline:   state.Deadline,
		}
		if err := s.queueFor(ctx, r, KindSLAEscalated, state.LeadID, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type approvalData struct {
	Name       string
	LeadID     uuid.UUID
	Role       string
	ApprovalID uuid.UUID
	Reason     string
	ExpiresAt  time.Time
}

// NotifyApprovalRequested tells every active owner holding the approver role.
func (s *Service) NotifyApprovalRequested(ctx context.Context, req workflow.ApprovalRequest) error {
	approvers, err := s.byRole(ctx, req.ApproverRole)
	if err != nil {
		return err
	}
	if len(approvers) == 0 {
		s.log.Warn("no approvers for role", "role", req.ApproverRole, "approval_id", req.ID)
		return nil
	}

	reason := ""
	if v, ok := req.RequestData["reason"].(string); ok {
		reason = v
	}

	var errs []error
	for _, a := range approvers {
		data := approvalData{
			Name:       a.Name,
			LeadID:     req.LeadID,
			Role:       req.ApproverRole,
			ApprovalID: req.ID,
			Reason:     reason,
			ExpiresAt:  req.ExpiresAt,
		}
		if err := s.queueFor(ctx, a, KindApprovalRequested, req.LeadID, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) byRole(ctx context.Context, role string) ([]routing.Owner, error) {
	if s.directory == nil || role == "" {
		return nil, nil
	}
	owners, err := s.directory.Owners(ctx, true)
	if err != nil {
		return nil, err
	}
	var out []routing.Owner
	for _, o := range owners {
		if o.HasRole(role) {
			out = append(out, o)
		}
	}
	return out, nil
}

// queueFor prefers email and falls back to sms.
func (s *Service) queueFor(ctx context.Context, to routing.Owner, kind string, leadID uuid.UUID, data any) error {
	channel, recipient := ChannelEmail, to.Email
	if recipient == "" {
		channel, recipient = ChannelSMS, to.Phone
	}
	if recipient == "" {
		s.log.Warn("owner has no contact details", "owner_id", to.ID, "kind", kind)
		return nil
	}

	subject, err := render(kind+".subject", data)
	if err != nil {
		return err
	}
	body, err := render(kind+".body", data)
	if err != nil {
		return err
	}

	_, err = s.Queue(ctx, Message{
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		LeadID:    &leadID,
		Kind:      kind,
	})
	return err
}
