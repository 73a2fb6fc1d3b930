package repositories

import (
	"context"
	"fmt"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByFederatedID(ctx context.Context, federatedID string) (*models.User, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	List(ctx context.Context, filters models.UserFilters) ([]*models.User, int, error)
}

type userRepo struct {
	db DBTX
}

func NewUserRepo(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, email, phone, first_name, last_name, password_hash, federated_id, role, status,
	notification_preferences, is_external, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	var prefs []string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.FederatedID,
		&user.Role,
		&user.Status,
		&prefs,
		&user.IsExternal,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.NotificationPreferences = make([]models.Channel, len(prefs))
	for i, p := range prefs {
		user.NotificationPreferences[i] = models.Channel(p)
	}
	return user, nil
}

func channelStrings(chs []models.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, phone, first_name, last_name, password_hash, federated_id, role, status,
			notification_preferences, is_external, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Phone,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.FederatedID,
		string(user.Role),
		string(user.Status),
		channelStrings(user.NotificationPreferences),
		user.IsExternal,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return mapError(err, "user")
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return user, nil
}

func (r *userRepo) GetByFederatedID(ctx context.Context, federatedID string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE federated_id = $1`, federatedID))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return user, nil
}

func (r *userRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, mapError(err, "user")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE users SET email = $2, phone = $3, first_name = $4, last_name = $5, federated_id = $6,
			role = $7, status = $8, notification_preferences = $9, is_external = $10, updated_at = $11
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Phone,
		user.FirstName,
		user.LastName,
		user.FederatedID,
		string(user.Role),
		string(user.Status),
		channelStrings(user.NotificationPreferences),
		user.IsExternal,
		user.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "user")
	}
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	if err != nil {
		return mapError(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, "user")
	}
	return nil
}

func (r *userRepo) List(ctx context.Context, filters models.UserFilters) ([]*models.User, int, error) {
	q := &queryBuilder{}
	if filters.Role != nil {
		q.add("role = $%d", string(*filters.Role))
	}
	if filters.Status != nil {
		q.add("status = $%d", string(*filters.Status))
	}
	if filters.Search != "" {
		q.add("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", "%"+filters.Search+"%")
	}
	where := q.clause()

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, q.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "user")
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + ` ORDER BY created_at DESC LIMIT ` +
		q.next(filters.Limit) + ` OFFSET ` + q.next(filters.Offset)
	rows, err := r.db.Query(ctx, query, q.args...)
	if err != nil {
		return nil, 0, mapError(err, "user")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}
