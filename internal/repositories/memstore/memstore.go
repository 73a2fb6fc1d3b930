// Package memstore is an in-process implementation of repositories.Store.
//
// It backs development runs without DATABASE_URL and the engine tests. All
// reads and writes are serialised by one mutex; a transaction holds that mutex
// for its whole duration and restores a snapshot when it fails, so callers see
// the same all-or-nothing behaviour as the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fixit/internal/common"
	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type txKey struct{}

type state struct {
	users         map[uuid.UUID]*models.User
	properties    map[uuid.UUID]*models.Property
	units         map[uuid.UUID]*models.Unit
	propertyUsers map[uuid.UUID]*models.PropertyUser
	vendors       map[uuid.UUID]*models.Vendor
	requests      map[uuid.UUID]*models.Request
	schedules     map[uuid.UUID]*models.ScheduledMaintenance
	comments      map[uuid.UUID]*models.Comment
	media         map[uuid.UUID]*models.Media
	notifications map[uuid.UUID]*models.Notification
	audit         []*models.AuditLog
	reminders     map[string]struct{}
	// insertion order breaks timestamp ties
	seq  map[uuid.UUID]uint64
	next uint64
}

func (s *state) track(id uuid.UUID) {
	if _, ok := s.seq[id]; !ok {
		s.next++
		s.seq[id] = s.next
	}
}

func newState() *state {
	return &state{
		users:         map[uuid.UUID]*models.User{},
		properties:    map[uuid.UUID]*models.Property{},
		units:         map[uuid.UUID]*models.Unit{},
		propertyUsers: map[uuid.UUID]*models.PropertyUser{},
		vendors:       map[uuid.UUID]*models.Vendor{},
		requests:      map[uuid.UUID]*models.Request{},
		schedules:     map[uuid.UUID]*models.ScheduledMaintenance{},
		comments:      map[uuid.UUID]*models.Comment{},
		media:         map[uuid.UUID]*models.Media{},
		notifications: map[uuid.UUID]*models.Notification{},
		reminders:     map[string]struct{}{},
		seq:           map[uuid.UUID]uint64{},
	}
}

func cloneMap[T any](in map[uuid.UUID]*T, clone func(*T) *T) map[uuid.UUID]*T {
	out := make(map[uuid.UUID]*T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func (s *state) snapshot() *state {
	c := &state{
		users:         cloneMap(s.users, (*models.User).Clone),
		properties:    cloneMap(s.properties, cloneProperty),
		units:         cloneMap(s.units, cloneUnit),
		propertyUsers: cloneMap(s.propertyUsers, (*models.PropertyUser).Clone),
		vendors:       cloneMap(s.vendors, (*models.Vendor).Clone),
		requests:      cloneMap(s.requests, (*models.Request).Clone),
		schedules:     cloneMap(s.schedules, (*models.ScheduledMaintenance).Clone),
		comments:      cloneMap(s.comments, (*models.Comment).Clone),
		media:         cloneMap(s.media, (*models.Media).Clone),
		notifications: cloneMap(s.notifications, (*models.Notification).Clone),
		audit:         append([]*models.AuditLog(nil), s.audit...),
		reminders:     make(map[string]struct{}, len(s.reminders)),
		seq:           make(map[uuid.UUID]uint64, len(s.seq)),
		next:          s.next,
	}
	for k := range s.reminders {
		c.reminders[k] = struct{}{}
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func cloneProperty(p *models.Property) *models.Property {
	c := *p
	if p.OwnerID != nil {
		id := *p.OwnerID
		c.OwnerID = &id
	}
	return &c
}

func cloneUnit(u *models.Unit) *models.Unit {
	c := *u
	return &c
}

// Store keeps every collection in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	repos *repositories.Repositories
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	s := &Store{state: newState()}
	s.repos = &repositories.Repositories{
		Users:         &userRepo{s},
		Properties:    &propertyRepo{s},
		PropertyUsers: &propertyUserRepo{s},
		Vendors:       &vendorRepo{s},
		Requests:      &requestRepo{s},
		Schedules:     &scheduleRepo{s},
		Comments:      &commentRepo{s},
		Media:         &mediaRepo{s},
		AuditLogs:     &auditRepo{s},
		Notifications: &notificationRepo{s},
	}
	return s
}

func (s *Store) Repos() *repositories.Repositories { return s.repos }

// WithinTx serialises fn against every other caller. Repository calls made
// with the context handed to fn join the transaction; a nested WithinTx
// joins the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos *repositories.Repositories) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx, s.repos)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.state = snap
			panic(r)
		}
		if err != nil {
			s.state = snap
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, s), s.repos); err != nil {
		return err
	}
	// a cancelled caller never commits
	return ctx.Err()
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store mutex unless ctx already belongs to a transaction on it.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func now() time.Time { return time.Now().UTC() }

func uniqueViolation(resource, constraint string) error {
	return common.Conflict(resource+" already exists", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: constraint,
		Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
	})
}

// page applies OFFSET/LIMIT; a non-positive limit returns everything after offset.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// sortRows orders by key time, then by insertion order in the same direction.
func sortRows[T any](st *state, rows []T, key func(T) (time.Time, uuid.UUID), desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, a := key(rows[i])
		tj, b := key(rows[j])
		if !ti.Equal(tj) {
			if desc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		}
		if desc {
			return st.seq[a] > st.seq[b]
		}
		return st.seq[a] < st.seq[b]
	})
}
