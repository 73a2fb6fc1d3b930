package services

import (
	"context"
	"sync"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type AuditLogsService interface {
	// Record writes entry through repos, which may be bound to an open
	// transaction. A nil repos writes through the pool. Record never fails
	// the caller: rows that cannot be written are journaled for replay.
	Record(ctx context.Context, repos *repositories.Repositories, entry *models.AuditLog)

	// WithinTx runs fn in a store transaction and journals the audit rows
	// that failed inside it once the transaction has finished.
	WithinTx(ctx context.Context, store repositories.Store, fn func(ctx context.Context, repos *repositories.Repositories) error) error

	// Query audit logs
	GetAuditLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
	ListAuditLogs(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error)
	GetEntityHistory(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error)

	// ReplayJournal retries journaled rows and returns how many were written.
	ReplayJournal(ctx context.Context) (int, error)
}

type auditLogsService struct {
	store   repositories.Store
	journal *AuditJournal
	logger  *logrus.Logger
	clock   func() time.Time
}

func NewAuditLogsService(store repositories.Store, journal *AuditJournal, logger *logrus.Logger, clock func() time.Time) AuditLogsService {
	if clock == nil {
		clock = time.Now
	}
	return &auditLogsService{store: store, journal: journal, logger: logger, clock: clock}
}

type pendingAuditKey struct{}

// pendingAudit collects rows whose write failed inside a transaction.
type pendingAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (p *pendingAudit) add(entry *models.AuditLog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

func (s *auditLogsService) WithinTx(ctx context.Context, store repositories.Store, fn func(ctx context.Context, repos *repositories.Repositories) error) error {
	if _, nested := ctx.Value(pendingAuditKey{}).(*pendingAudit); nested {
		return store.WithinTx(ctx, fn)
	}
	pending := &pendingAudit{}
	err := store.WithinTx(context.WithValue(ctx, pendingAuditKey{}, pending), fn)
	if len(pending.entries) > 0 {
		s.journalEntries(pending.entries...)
	}
	return err
}

func (s *auditLogsService) Record(ctx context.Context, repos *repositories.Repositories, entry *models.AuditLog) {
	s.fill(ctx, entry)
	if repos == nil {
		repos = s.store.Repos()
	}
	err := repos.AuditLogs.Create(ctx, entry)
	if err == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"action":      entry.Action,
		"resource_id": entry.ResourceID,
	}).WithError(err).Warn("audit write failed, journaling")

	if pending, ok := ctx.Value(pendingAuditKey{}).(*pendingAudit); ok {
		pending.add(entry)
		return
	}
	s.journalEntries(entry)
}

// fill stamps id, time and request metadata on an entry
func (s *auditLogsService) fill(ctx context.Context, entry *models.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.AuditSuccess
	}
	if entry.Metadata == nil {
		entry.Metadata = models.JSONB{}
	}
	meta := common.RequestMetaFromContext(ctx)
	if entry.IPAddress == nil {
		entry.IPAddress = common.StringPtr(meta.IPAddress)
	}
	if entry.UserAgent == nil {
		entry.UserAgent = common.StringPtr(meta.UserAgent)
	}
	if meta.CorrelationID != "" {
		if _, ok := entry.Metadata["correlationId"]; !ok {
			entry.Metadata["correlationId"] = meta.CorrelationID
		}
	}
}

func (s *auditLogsService) journalEntries(entries ...*models.AuditLog) {
	if s.journal == nil {
		for _, e := range entries {
			s.logger.WithFields(logrus.Fields{
				"action":        e.Action,
				"resource_kind": common.SafeString(e.ResourceKind),
				"resource_id":   e.ResourceID,
				"description":   e.Description,
			}).Error("audit row lost: no journal configured")
		}
		return
	}
	if err := s.journal.Append(entries...); err != nil {
		s.logger.WithError(err).WithField("count", len(entries)).Error("failed to journal audit rows")
	}
}

// GetAuditLog retrieves a single audit log entry
func (s *auditLogsService) GetAuditLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	return s.store.Repos().AuditLogs.GetByID(ctx, id)
}

// ListAuditLogs retrieves multiple audit log entries with filtering
func (s *auditLogsService) ListAuditLogs(ctx context.Context, filters *models.AuditLogFilters) ([]*models.AuditLog, int, error) {
	if filters == nil {
		filters = &models.AuditLogFilters{Limit: 50}
	}
	if filters.Limit <= 0 || filters.Limit > 1000 {
		filters.Limit = 50
	}
	if filters.StartDate != nil && filters.EndDate != nil {
		if err := common.ValidateDateRange(*filters.StartDate, *filters.EndDate); err != nil {
			return nil, 0, err
		}
	}
	return s.store.Repos().AuditLogs.List(ctx, filters)
}

// GetEntityHistory returns one resource's trail, oldest first
func (s *auditLogsService) GetEntityHistory(ctx context.Context, kind string, id uuid.UUID) ([]*models.AuditLog, error) {
	return s.store.Repos().AuditLogs.ListByResource(ctx, kind, id)
}

func (s *auditLogsService) ReplayJournal(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	repos := s.store.Repos()
	written, err := s.journal.Drain(func(entry *models.AuditLog) error {
		err := repos.AuditLogs.Create(ctx, entry)
		if repositories.IsUniqueViolation(err, "") {
			// already landed on an earlier attempt
			return nil
		}
		return err
	})
	if written > 0 {
		s.logger.WithField("count", written).Info("replayed journaled audit rows")
	}
	return written, err
}

// auditEntry builds a success row for one resource.
func auditEntry(action models.AuditAction, actor *uuid.UUID, kind string, id uuid.UUID, description string) *models.AuditLog {
	resourceKind := kind
	resourceID := id
	return &models.AuditLog{
		Action:       action,
		ActorID:      actor,
		ResourceKind: &resourceKind,
		ResourceID:   &resourceID,
		Status:       models.AuditSuccess,
		Description:  description,
		Metadata:     models.JSONB{},
	}
}

// failureEntry builds a failure row carrying err's message.
func failureEntry(action models.AuditAction, actor *uuid.UUID, kind string, id *uuid.UUID, description string, err error) *models.AuditLog {
	entry := &models.AuditLog{
		Action:      action,
		ActorID:     actor,
		Status:      models.AuditFailure,
		Description: description,
		Metadata:    models.JSONB{},
	}
	if kind != "" {
		entry.ResourceKind = &kind
	}
	entry.ResourceID = id
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}
