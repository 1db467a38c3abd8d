package riderepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
)

type participantKey struct {
	ride domain.RideID
	user domain.UserID
}

// Repo is an in-memory implementation of riderepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	byID         map[domain.RideID]riderepo.Ride
	participants map[participantKey]riderepo.Participant
	chat         map[domain.RideID][]domain.ChatMessage
}

func NewRepo() *Repo {
	return &Repo{
		byID:         make(map[domain.RideID]riderepo.Ride),
		participants: make(map[participantKey]riderepo.Participant),
		chat:         make(map[domain.RideID][]domain.ChatMessage),
	}
}

func (r *Repo) Create(ctx context.Context, ride riderepo.Ride) error {
	_ = ctx
	if ride.ID == "" {
		return riderepo.ErrAlreadyExists
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[ride.ID]; ok {
		return riderepo.ErrAlreadyExists
	}
	r.byID[ride.ID] = cloneRide(ride)
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.RideID) (riderepo.Ride, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	ride, ok := r.byID[id]
	if !ok {
		return riderepo.Ride{}, riderepo.ErrNotFound
	}
	return cloneRide(ride), nil
}

func (r *Repo) ListActiveForParticipant(ctx context.Context, userID domain.UserID) ([]riderepo.Ride, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]riderepo.Ride, 0)
	for id, ride := range r.byID {
		if ride.Status != domain.RideStatusActive {
			continue
		}
		if ride.OrganizerID == userID {
			out = append(out, cloneRide(ride))
			continue
		}
		p, ok := r.participants[participantKey{ride: id, user: userID}]
		if !ok || p.Status == domain.ParticipantDeclined || p.Status == domain.ParticipantLeft {
			continue
		}
		out = append(out, cloneRide(ride))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id domain.RideID, change riderepo.StatusChange) (riderepo.Ride, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.byID[id]
	if !ok {
		return riderepo.Ride{}, riderepo.ErrNotFound
	}
	if ride.Status != change.From {
		return riderepo.Ride{}, riderepo.ErrStatusConflict
	}
	ride.Status = change.To
	if change.StartedAt != nil {
		ride.StartedAt = cloneTimePtr(change.StartedAt)
	}
	if change.EndedAt != nil {
		ride.EndedAt = cloneTimePtr(change.EndedAt)
	}
	if change.Stats != nil {
		ride.Stats = cloneStats(change.Stats)
	}
	ride.UpdatedAt = change.At.UTC()
	r.byID[id] = ride
	return cloneRide(ride), nil
}

func (r *Repo) GetParticipant(ctx context.Context, rideID domain.RideID, userID domain.UserID) (riderepo.Participant, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantKey{ride: rideID, user: userID}]
	if !ok {
		return riderepo.Participant{}, riderepo.ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

func (r *Repo) ListParticipants(ctx context.Context, rideID domain.RideID) ([]riderepo.Participant, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]riderepo.Participant, 0)
	for k, p := range r.participants {
		if k.ride == rideID {
			out = append(out, cloneParticipant(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *Repo) SaveParticipant(ctx context.Context, p riderepo.Participant) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.RideID]; !ok {
		return riderepo.ErrNotFound
	}
	r.participants[participantKey{ride: p.RideID, user: p.UserID}] = cloneParticipant(p)
	return nil
}

func (r *Repo) UpdateParticipantLocation(ctx context.Context, rideID domain.RideID, userID domain.UserID, loc domain.Location) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	k := participantKey{ride: rideID, user: userID}
	p, ok := r.participants[k]
	if !ok {
		return riderepo.ErrParticipantNotFound
	}
	p.Location = cloneLocation(&loc)
	p.UpdatedAt = loc.RecordedAt.UTC()
	r.participants[k] = p
	return nil
}

func (r *Repo) AppendChatMessage(ctx context.Context, m domain.ChatMessage) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.RideID]; !ok {
		return riderepo.ErrNotFound
	}
	r.chat[m.RideID] = append(r.chat[m.RideID], m)
	return nil
}

func (r *Repo) ListChatMessages(ctx context.Context, rideID domain.RideID, limit int) ([]domain.ChatMessage, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.chat[rideID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]domain.ChatMessage{}, log...), nil
}

func (r *Repo) CountChatMessages(ctx context.Context, rideID domain.RideID) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chat[rideID]), nil
}

func cloneRide(ride riderepo.Ride) riderepo.Ride {
	cp := ride
	cp.ScheduledStart = cloneTimePtr(ride.ScheduledStart)
	cp.ScheduledEnd = cloneTimePtr(ride.ScheduledEnd)
	cp.StartedAt = cloneTimePtr(ride.StartedAt)
	cp.EndedAt = cloneTimePtr(ride.EndedAt)
	cp.StartPoint = clonePoint(ride.StartPoint)
	cp.Destination = clonePoint(ride.Destination)
	cp.Stats = cloneStats(ride.Stats)
	return cp
}

func cloneParticipant(p riderepo.Participant) riderepo.Participant {
	cp := p
	cp.Location = cloneLocation(p.Location)
	cp.JoinedAt = cloneTimePtr(p.JoinedAt)
	cp.LeftAt = cloneTimePtr(p.LeftAt)
	return cp
}

func cloneLocation(l *domain.Location) *domain.Location {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Speed = cloneFloatPtr(l.Speed)
	cp.Heading = cloneFloatPtr(l.Heading)
	return &cp
}

func cloneStats(s *domain.RideStats) *domain.RideStats {
	if s == nil {
		return nil
	}
	cp := *s
	cp.PlannedDistanceKm = cloneFloatPtr(s.PlannedDistanceKm)
	return &cp
}

func clonePoint(p *domain.GeoPoint) *domain.GeoPoint {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
