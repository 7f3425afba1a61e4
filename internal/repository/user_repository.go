package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dankerchat/backend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is a read-only view of the user and role directory.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, display_name, password_hash, role_name, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.RoleName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

func (r *UserRepository) IsActive(ctx context.Context, id string) (bool, error) {
	const query = `SELECT is_active FROM users WHERE id = $1`
	var active bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	return active, nil
}

// PermissionsFor resolves the user's global role into its permission flags.
func (r *UserRepository) PermissionsFor(ctx context.Context, id string) (models.Permissions, error) {
	const query = `
		SELECT COALESCE(ro.permissions, '{}'::jsonb)
		FROM users u
		LEFT JOIN roles ro ON ro.name = u.role_name
		WHERE u.id = $1
	`
	perms := models.Permissions{}
	if err := r.pool.QueryRow(ctx, query, id).Scan(&perms); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return perms, nil
}

func (r *UserRepository) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `SELECT id, username, display_name FROM users WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName); err != nil {
			return nil, err
		}
		out[u.ID] = u.Profile()
	}
	return out, rows.Err()
}
