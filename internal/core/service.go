// Package core implements the contribution ledger and moderation pipeline:
// identity verification and cap resolution, the countdown-gated submission
// ledger, the live moderation queue and the access gate in front of it.
package core

import (
	"context"
	"time"

	"contribledger/internal/infra/persistence/memory"
	"contribledger/pkg/domain"
)

// DefaultWindowLength is used when no deadline is configured.
const DefaultWindowLength = 24 * time.Hour

// Service ties the pipeline components to one record store and instruments
// every operation with tracing, metrics, audit and logging.
type Service struct {
	store    domain.PersistentStore
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	archiver Archiver

	resolver *CapResolver
	ledger   *SubmissionLedger
	gate     *CountdownGate

	queueWindow int
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
		setter.SetNowFunc(options.clock.Now)
	}
	deadline := options.deadline
	if deadline.IsZero() {
		deadline = options.clock.Now().Add(DefaultWindowLength)
	}
	ledger := NewSubmissionLedger(store, options.minContribution)
	ledger.now = options.clock.Now
	return &Service{
		store:       store,
		clock:       options.clock,
		logger:      options.logger,
		audit:       options.audit,
		metrics:     options.metrics,
		tracer:      options.tracer,
		archiver:    options.archiver,
		resolver:    NewCapResolver(options.directory, options.fallbackCap),
		ledger:      ledger,
		gate:        NewCountdownGate(deadline),
		queueWindow: options.queueWindow,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying record store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Clock returns the service clock.
func (s *Service) Clock() Clock { return s.clock }

// Logger returns the configured logger.
func (s *Service) Logger() Logger { return s.logger }

// Deadline returns the instant the submission window closes.
func (s *Service) Deadline() time.Time { return s.gate.Deadline() }

// MinimumContribution returns the smallest accepted submission amount.
func (s *Service) MinimumContribution() float64 { return s.ledger.minimum }

// Countdown ticks the window gate against the service clock.
func (s *Service) Countdown() Countdown {
	return s.gate.Tick(s.clock.Now())
}

// WindowClosed reports whether the submission window has closed.
func (s *Service) WindowClosed() bool {
	return s.Countdown().Closed
}

// RunCountdown drives the window gate once per interval until it closes or
// ctx is cancelled.
func (s *Service) RunCountdown(ctx context.Context, interval time.Duration, fn func(Countdown)) {
	s.gate.Run(ctx, s.clock, interval, fn)
}

// VerifyIdentity validates a claimed identity and resolves its cap.
func (s *Service) VerifyIdentity(ctx context.Context, handle, wallet string) (Verification, error) {
	var out Verification
	err := s.run(ctx, "verify_identity", func(ctx context.Context) (string, error) {
		v, err := s.resolver.Verify(ctx, handle, wallet)
		if err != nil {
			return domain.NormalizeHandle(handle), err
		}
		out = v
		return v.Identity.Handle, nil
	})
	return out, err
}

// LoadLedger returns the handle's submissions, most recent first.
func (s *Service) LoadLedger(ctx context.Context, handle string) ([]domain.Submission, error) {
	var out []domain.Submission
	err := s.run(ctx, "load_ledger", func(ctx context.Context) (string, error) {
		subs, err := s.ledger.Load(ctx, handle)
		out = subs
		return domain.NormalizeHandle(handle), err
	})
	return out, err
}

// AppendSubmission records a new PENDING submission for a verified identity.
func (s *Service) AppendSubmission(ctx context.Context, in AppendInput) (domain.Submission, error) {
	var created domain.Submission
	err := s.run(ctx, "append_submission", func(ctx context.Context) (string, error) {
		sub, err := s.ledger.Append(ctx, in)
		if err != nil {
			return "", err
		}
		created = sub
		return sub.ID, nil
	})
	if err == nil {
		s.archive(ctx, created.IdentityHandle)
	}
	return created, err
}

// SubmitRequest is an unverified submission as received from a remote caller.
type SubmitRequest struct {
	Handle         string
	WalletAddress  string
	ProofReference string
	Amount         float64
}

// SubmitContribution verifies the caller's identity, derives the cap and the
// window state server-side, then appends the submission.
func (s *Service) SubmitContribution(ctx context.Context, req SubmitRequest) (domain.Submission, error) {
	var created domain.Submission
	err := s.run(ctx, "submit_contribution", func(ctx context.Context) (string, error) {
		closed := s.WindowClosed()
		if closed {
			// window precedence holds even before credentials are checked
			return "", domain.NewError(domain.CodeWindowClosed, "submission window closed at %s", s.Deadline().Format(time.RFC3339))
		}
		v, err := s.resolver.Verify(ctx, req.Handle, req.WalletAddress)
		if err != nil {
			return "", err
		}
		sub, err := s.ledger.Append(ctx, AppendInput{
			Handle:         v.Identity.Handle,
			ProofReference: req.ProofReference,
			Amount:         req.Amount,
			Cap:            v.Cap,
			WindowClosed:   closed,
		})
		if err != nil {
			return "", err
		}
		created = sub
		return sub.ID, nil
	})
	if err == nil {
		s.archive(ctx, created.IdentityHandle)
	}
	return created, err
}

// ResolveSubmission moves a PENDING submission to a terminal status.
func (s *Service) ResolveSubmission(ctx context.Context, id string, target domain.SubmissionStatus, reviewer string) (domain.Submission, error) {
	var resolved domain.Submission
	err := s.run(ctx, "resolve_submission", func(ctx context.Context) (string, error) {
		sub, err := resolveSubmission(ctx, s.store, s.clock.Now, id, target, reviewer)
		if err != nil {
			return id, err
		}
		resolved = sub
		return sub.ID, nil
	})
	if err == nil {
		s.archive(ctx, resolved.IdentityHandle)
	}
	return resolved, err
}

// NewModerationQueue returns a queue whose resolutions run through the
// service instrumentation.
func (s *Service) NewModerationQueue() *ModerationQueue {
	q := NewModerationQueue(s.store, s.queueWindow)
	q.now = s.clock.Now
	q.resolver = s.ResolveSubmission
	return q
}

// ListPending returns the current pending subset of the moderation window.
func (s *Service) ListPending(ctx context.Context) ([]domain.Submission, error) {
	var out []domain.Submission
	err := s.run(ctx, "list_pending", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view domain.TransactionView) error {
			out = FilterPending(view.ListSubmissions(domain.SubmissionQuery{Limit: s.queueWindow}))
			return nil
		})
	})
	return out, err
}

func (s *Service) archive(ctx context.Context, handle string) {
	if s.archiver == nil || handle == "" {
		return
	}
	subs, err := s.ledger.Load(ctx, handle)
	if err == nil {
		err = s.archiver.Archive(ctx, handle, subs)
	}
	if err != nil {
		s.logger.Warn("ledger archive failed", "handle", handle, "error", err)
	}
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	if duration < 0 {
		duration = 0
	}
	span.End(err)
	s.metrics.Observe(ctx, op, err, duration)
	if err != nil {
		s.recordAuditError(ctx, op, entityID, duration, err)
		s.logger.Warn("operation failed", "operation", op, "entity_id", entityID, "code", string(domain.CodeOf(err)), "error", err)
		return err
	}
	s.recordAuditSuccess(ctx, op, entityID, duration)
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	return nil
}

type operationMetadata struct {
	entity domain.EntityType
	action domain.Action
}

var auditedOperations = map[string]operationMetadata{
	"verify_identity":     {},
	"load_ledger":         {entity: domain.EntitySubmission},
	"list_pending":        {entity: domain.EntitySubmission},
	"append_submission":   {entity: domain.EntitySubmission, action: domain.ActionCreate},
	"submit_contribution": {entity: domain.EntitySubmission, action: domain.ActionCreate},
	"resolve_submission":  {entity: domain.EntitySubmission, action: domain.ActionUpdate},
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Code:      domain.CodeOf(err),
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}
