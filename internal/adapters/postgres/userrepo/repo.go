package userrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

// Repo is a Postgres implementation of userrepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const userColumns = `id, display_name, is_active, is_online, last_seen_at, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, u userrepo.User) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	id, err := uuid.Parse(string(u.ID))
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, is_active, is_online, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, domain.NormalizeHumanName(u.DisplayName), u.IsActive, u.Online, u.LastSeenAt, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if err != nil {
		if postgres.IsUniqueViolation(err, "users_pkey") {
			return userrepo.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.UserID) (userrepo.User, error) {
	if r.pool == nil {
		return userrepo.User{}, errors.New("nil postgres pool")
	}
	uid, err := uuid.Parse(string(id))
	if err != nil {
		// A non-uuid id cannot name a stored user.
		return userrepo.User{}, userrepo.ErrNotFound
	}
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return userrepo.User{}, userrepo.ErrNotFound
		}
		return userrepo.User{}, err
	}
	return u, nil
}

func (r *Repo) SetFriendship(ctx context.Context, a, b domain.UserID, status userrepo.FriendStatus, at time.Time) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	ua, err := uuid.Parse(string(a))
	if err != nil {
		return userrepo.ErrNotFound
	}
	ub, err := uuid.Parse(string(b))
	if err != nil {
		return userrepo.ErrNotFound
	}
	if ub.String() < ua.String() {
		ua, ub = ub, ua
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO friendships (user_a, user_b, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_a, user_b) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, ua, ub, string(status), at.UTC())
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return userrepo.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *Repo) ListAcceptedFriends(ctx context.Context, id domain.UserID) ([]userrepo.User, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	uid, err := uuid.Parse(string(id))
	if err != nil {
		return []userrepo.User{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.display_name, u.is_active, u.is_online, u.last_seen_at, u.created_at, u.updated_at
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_a = $1 THEN f.user_b ELSE f.user_a END
		WHERE (f.user_a = $1 OR f.user_b = $1)
		  AND f.status = 'ACCEPTED'
		  AND u.is_active
		  AND u.id <> $1
		ORDER BY lower(u.display_name) ASC, u.id::text ASC
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]userrepo.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdatePresence(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	uid, err := uuid.Parse(string(id))
	if err != nil {
		return userrepo.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET is_online = $2,
		    last_seen_at = CASE WHEN $2 THEN last_seen_at ELSE $3 END,
		    updated_at = $3
		WHERE id = $1
	`, uid, online, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return userrepo.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (userrepo.User, error) {
	var (
		id         uuid.UUID
		u          userrepo.User
		lastSeenAt *time.Time
	)
	if err := row.Scan(&id, &u.DisplayName, &u.IsActive, &u.Online, &lastSeenAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return userrepo.User{}, err
	}
	u.ID = domain.UserID(id.String())
	if lastSeenAt != nil {
		v := lastSeenAt.UTC()
		u.LastSeenAt = &v
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
