package riderepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/ride-live-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

// Repo is a Postgres implementation of riderepo.Repository.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const rideColumns = `id, name, organizer_id, status, scheduled_start, scheduled_end, started_at, ended_at,
	start_latitude, start_longitude, dest_latitude, dest_longitude, stats, created_at, updated_at`

const participantColumns = `ride_id, user_id, status, latitude, longitude, speed, heading, located_at,
	is_online, joined_at, left_at, updated_at`

func (r *Repo) Create(ctx context.Context, ride riderepo.Ride) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	rideUUID, err := uuid.Parse(string(ride.ID))
	if err != nil {
		return fmt.Errorf("invalid ride id: %w", err)
	}
	orgUUID, err := uuid.Parse(string(ride.OrganizerID))
	if err != nil {
		return fmt.Errorf("invalid organizer id: %w", err)
	}
	stats, err := marshalStats(ride.Stats)
	if err != nil {
		return err
	}
	sLat, sLng := pointColumns(ride.StartPoint)
	dLat, dLng := pointColumns(ride.Destination)

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rides (
			id, name, organizer_id, status,
			scheduled_start, scheduled_end, started_at, ended_at,
			start_latitude, start_longitude, dest_latitude, dest_longitude,
			stats, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		rideUUID, ride.Name, orgUUID, string(ride.Status),
		utcPtr(ride.ScheduledStart), utcPtr(ride.ScheduledEnd), utcPtr(ride.StartedAt), utcPtr(ride.EndedAt),
		sLat, sLng, dLat, dLng,
		stats, ride.CreatedAt.UTC(), ride.UpdatedAt.UTC(),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "rides_pkey") {
			return riderepo.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.RideID) (riderepo.Ride, error) {
	if r.pool == nil {
		return riderepo.Ride{}, errors.New("nil postgres pool")
	}
	rideUUID, err := uuid.Parse(string(id))
	if err != nil {
		return riderepo.Ride{}, riderepo.ErrNotFound
	}
	ride, err := scanRide(r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, rideUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return riderepo.Ride{}, riderepo.ErrNotFound
		}
		return riderepo.Ride{}, err
	}
	return ride, nil
}

func (r *Repo) ListActiveForParticipant(ctx context.Context, userID domain.UserID) ([]riderepo.Ride, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	uid, err := uuid.Parse(string(userID))
	if err != nil {
		return []riderepo.Ride{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides r
		WHERE r.status = 'ACTIVE'
		  AND (
			r.organizer_id = $1
			OR EXISTS (
				SELECT 1 FROM ride_participants p
				WHERE p.ride_id = r.id AND p.user_id = $1 AND p.status NOT IN ('DECLINED', 'LEFT')
			)
		  )
		ORDER BY r.id::text ASC
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]riderepo.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id domain.RideID, change riderepo.StatusChange) (riderepo.Ride, error) {
	if r.pool == nil {
		return riderepo.Ride{}, errors.New("nil postgres pool")
	}
	rideUUID, err := uuid.Parse(string(id))
	if err != nil {
		return riderepo.Ride{}, riderepo.ErrNotFound
	}
	stats, err := marshalStats(change.Stats)
	if err != nil {
		return riderepo.Ride{}, err
	}

	var out riderepo.Ride
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ride, err := scanRide(tx.QueryRow(ctx, `
			UPDATE rides
			SET status     = $3,
			    started_at = COALESCE($4, started_at),
			    ended_at   = COALESCE($5, ended_at),
			    stats      = COALESCE($6, stats),
			    updated_at = $7
			WHERE id = $1 AND status = $2
			RETURNING `+rideColumns,
			rideUUID, string(change.From), string(change.To),
			utcPtr(change.StartedAt), utcPtr(change.EndedAt), stats, change.At.UTC(),
		))
		if err == nil {
			out = ride
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		// No row updated: either the ride is missing or its status moved on.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id = $1)`, rideUUID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return riderepo.ErrNotFound
		}
		return riderepo.ErrStatusConflict
	})
	if err != nil {
		return riderepo.Ride{}, err
	}
	return out, nil
}

func (r *Repo) GetParticipant(ctx context.Context, rideID domain.RideID, userID domain.UserID) (riderepo.Participant, error) {
	if r.pool == nil {
		return riderepo.Participant{}, errors.New("nil postgres pool")
	}
	rid, err1 := uuid.Parse(string(rideID))
	uid, err2 := uuid.Parse(string(userID))
	if err1 != nil || err2 != nil {
		return riderepo.Participant{}, riderepo.ErrParticipantNotFound
	}
	p, err := scanParticipant(r.pool.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM ride_participants WHERE ride_id = $1 AND user_id = $2
	`, rid, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return riderepo.Participant{}, riderepo.ErrParticipantNotFound
		}
		return riderepo.Participant{}, err
	}
	return p, nil
}

func (r *Repo) ListParticipants(ctx context.Context, rideID domain.RideID) ([]riderepo.Participant, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(rideID))
	if err != nil {
		return []riderepo.Participant{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+participantColumns+` FROM ride_participants WHERE ride_id = $1 ORDER BY user_id::text ASC
	`, rid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]riderepo.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SaveParticipant(ctx context.Context, p riderepo.Participant) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(p.RideID))
	if err != nil {
		return riderepo.ErrNotFound
	}
	uid, err := uuid.Parse(string(p.UserID))
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	lat, lng, speed, heading, locatedAt := locationColumns(p.Location)

	_, err = r.pool.Exec(ctx, `
		INSERT INTO ride_participants (`+participantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (ride_id, user_id) DO UPDATE SET
			status     = EXCLUDED.status,
			latitude   = EXCLUDED.latitude,
			longitude  = EXCLUDED.longitude,
			speed      = EXCLUDED.speed,
			heading    = EXCLUDED.heading,
			located_at = EXCLUDED.located_at,
			is_online  = EXCLUDED.is_online,
			joined_at  = EXCLUDED.joined_at,
			left_at    = EXCLUDED.left_at,
			updated_at = EXCLUDED.updated_at
	`,
		rid, uid, string(p.Status), lat, lng, speed, heading, locatedAt,
		p.Online, utcPtr(p.JoinedAt), utcPtr(p.LeftAt), p.UpdatedAt.UTC(),
	)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return riderepo.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *Repo) UpdateParticipantLocation(ctx context.Context, rideID domain.RideID, userID domain.UserID, loc domain.Location) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	rid, err1 := uuid.Parse(string(rideID))
	uid, err2 := uuid.Parse(string(userID))
	if err1 != nil || err2 != nil {
		return riderepo.ErrParticipantNotFound
	}
	lat, lng, speed, heading, locatedAt := locationColumns(&loc)
	tag, err := r.pool.Exec(ctx, `
		UPDATE ride_participants
		SET latitude = $3, longitude = $4, speed = $5, heading = $6, located_at = $7, updated_at = $7
		WHERE ride_id = $1 AND user_id = $2
	`, rid, uid, lat, lng, speed, heading, locatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return riderepo.ErrParticipantNotFound
	}
	return nil
}

func (r *Repo) AppendChatMessage(ctx context.Context, m domain.ChatMessage) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	mid, err := uuid.Parse(string(m.ID))
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	rid, err := uuid.Parse(string(m.RideID))
	if err != nil {
		return riderepo.ErrNotFound
	}
	sid, err := uuid.Parse(string(m.SenderID))
	if err != nil {
		return fmt.Errorf("invalid sender id: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO ride_messages (id, ride_id, sender_id, kind, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, mid, rid, sid, string(m.Kind), m.Body, m.SentAt.UTC())
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return riderepo.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *Repo) ListChatMessages(ctx context.Context, rideID domain.RideID, limit int) ([]domain.ChatMessage, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(rideID))
	if err != nil {
		return []domain.ChatMessage{}, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, ride_id, sender_id, kind, body, sent_at FROM (
			SELECT seq, id, ride_id, sender_id, kind, body, sent_at
			FROM ride_messages WHERE ride_id = $1
			ORDER BY seq DESC LIMIT $2
		) tail
		ORDER BY seq ASC
	`, rid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var (
			id, rideUUID, sender uuid.UUID
			kind                 string
			m                    domain.ChatMessage
		)
		if err := rows.Scan(&id, &rideUUID, &sender, &kind, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		m.ID = domain.MessageID(id.String())
		m.RideID = domain.RideID(rideUUID.String())
		m.SenderID = domain.UserID(sender.String())
		m.Kind = domain.MessageKind(kind)
		m.SentAt = m.SentAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountChatMessages(ctx context.Context, rideID domain.RideID) (int, error) {
	if r.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	rid, err := uuid.Parse(string(rideID))
	if err != nil {
		return 0, nil
	}
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM ride_messages WHERE ride_id = $1`, rid).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanRide(row pgx.Row) (riderepo.Ride, error) {
	var (
		id, organizer          uuid.UUID
		status                 string
		ride                   riderepo.Ride
		sLat, sLng, dLat, dLng *float64
		stats                  []byte
		schedStart, schedEnd   *time.Time
		startedAt, endedAt     *time.Time
	)
	if err := row.Scan(
		&id, &ride.Name, &organizer, &status,
		&schedStart, &schedEnd, &startedAt, &endedAt,
		&sLat, &sLng, &dLat, &dLng,
		&stats, &ride.CreatedAt, &ride.UpdatedAt,
	); err != nil {
		return riderepo.Ride{}, err
	}
	ride.ID = domain.RideID(id.String())
	ride.OrganizerID = domain.UserID(organizer.String())
	ride.Status = domain.RideStatus(status)
	ride.ScheduledStart = utcPtr(schedStart)
	ride.ScheduledEnd = utcPtr(schedEnd)
	ride.StartedAt = utcPtr(startedAt)
	ride.EndedAt = utcPtr(endedAt)
	ride.StartPoint = pointFromColumns(sLat, sLng)
	ride.Destination = pointFromColumns(dLat, dLng)
	ride.CreatedAt = ride.CreatedAt.UTC()
	ride.UpdatedAt = ride.UpdatedAt.UTC()
	if len(stats) > 0 {
		var st domain.RideStats
		if err := json.Unmarshal(stats, &st); err != nil {
			return riderepo.Ride{}, fmt.Errorf("decode ride stats: %w", err)
		}
		ride.Stats = &st
	}
	return ride, nil
}

func scanParticipant(row pgx.Row) (riderepo.Participant, error) {
	var (
		rideUUID, userUUID          uuid.UUID
		status                      string
		p                           riderepo.Participant
		lat, lng, speed, heading    *float64
		locatedAt, joinedAt, leftAt *time.Time
	)
	if err := row.Scan(
		&rideUUID, &userUUID, &status, &lat, &lng, &speed, &heading, &locatedAt,
		&p.Online, &joinedAt, &leftAt, &p.UpdatedAt,
	); err != nil {
		return riderepo.Participant{}, err
	}
	p.RideID = domain.RideID(rideUUID.String())
	p.UserID = domain.UserID(userUUID.String())
	p.Status = domain.ParticipantStatus(status)
	p.JoinedAt = utcPtr(joinedAt)
	p.LeftAt = utcPtr(leftAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	if lat != nil && lng != nil {
		loc := domain.Location{Latitude: *lat, Longitude: *lng, Speed: speed, Heading: heading}
		if locatedAt != nil {
			loc.RecordedAt = locatedAt.UTC()
		}
		p.Location = &loc
	}
	return p, nil
}

func marshalStats(s *domain.RideStats) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode ride stats: %w", err)
	}
	return b, nil
}

func pointColumns(p *domain.GeoPoint) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Latitude, p.Longitude
	return &lat, &lng
}

func pointFromColumns(lat, lng *float64) *domain.GeoPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &domain.GeoPoint{Latitude: *lat, Longitude: *lng}
}

func locationColumns(l *domain.Location) (lat, lng, speed, heading *float64, at *time.Time) {
	if l == nil {
		return nil, nil, nil, nil, nil
	}
	la, lo := l.Latitude, l.Longitude
	ts := l.RecordedAt.UTC()
	return &la, &lo, l.Speed, l.Heading, &ts
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
