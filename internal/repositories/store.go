package repositories

import (
	"context"
	"errors"
	"time"

	"fixit/internal/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories groups every repository bound to the same connection or transaction.
type Repositories struct {
	Users         UserRepository
	Properties    PropertyRepository
	PropertyUsers PropertyUserRepository
	Vendors       VendorRepository
	Requests      RequestRepository
	Schedules     ScheduleRepository
	Comments      CommentRepository
	Media         MediaRepository
	AuditLogs     AuditLogsRepository
	Notifications NotificationRepository
}

func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		Users:         NewUserRepo(db),
		Properties:    NewPropertyRepo(db),
		PropertyUsers: NewPropertyUserRepo(db),
		Vendors:       NewVendorRepo(db),
		Requests:      NewRequestRepo(db),
		Schedules:     NewScheduleRepo(db),
		Comments:      NewCommentRepo(db),
		Media:         NewMediaRepo(db),
		AuditLogs:     NewAuditLogsRepo(db),
		Notifications: NewNotificationRepo(db),
	}
}

// Store is the transactional entry point used by the services.
type Store interface {
	// Repos returns repositories bound to the pool (autocommit).
	Repos() *Repositories
	// WithinTx runs fn against repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error
	Ping(ctx context.Context) error
	Close()
}

type pgStore struct {
	pool    *pgxpool.Pool
	repos   *Repositories
	timeout time.Duration
}

// NewStore wraps a pool. timeout bounds each transaction; zero disables it.
func NewStore(pool *pgxpool.Pool, timeout time.Duration) Store {
	return &pgStore{pool: pool, repos: NewRepositories(pool), timeout: timeout}
}

func (s *pgStore) Repos() *Repositories { return s.repos }

func (s *pgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewRepositories(tx))
	})
	var appErr *common.AppError
	if err == nil || errors.As(err, &appErr) || errors.Is(err, ErrVersionConflict) {
		return err
	}
	return mapError(err, "transaction")
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgStore) Close() {
	s.pool.Close()
}
