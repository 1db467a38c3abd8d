// Package fixtures loads a YAML seed file into the user and ride stores for local development.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/riderepo"
	"github.com/Overland-East-Bay/ride-live-api/internal/ports/out/userrepo"
)

type File struct {
	Users       []User       `yaml:"users"`
	Friendships []Friendship `yaml:"friendships"`
	Rides       []Ride       `yaml:"rides"`
}

type User struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"displayName"`
	// Inactive users still exist but cannot authenticate.
	Inactive bool `yaml:"inactive"`
}

type Friendship struct {
	A      string `yaml:"a"`
	B      string `yaml:"b"`
	Status string `yaml:"status"`
}

type Point struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type Ride struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Organizer      string        `yaml:"organizer"`
	Status         string        `yaml:"status"`
	ScheduledStart *time.Time    `yaml:"scheduledStart"`
	Start          *Point        `yaml:"start"`
	Destination    *Point        `yaml:"destination"`
	Participants   []Participant `yaml:"participants"`
}

type Participant struct {
	User   string `yaml:"user"`
	Status string `yaml:"status"`
}

// Parse decodes a seed document and checks it for internal consistency. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func Load(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

func (f File) Validate() error {
	users := make(map[string]struct{}, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if domain.NormalizeHumanName(u.DisplayName) == "" {
			return fmt.Errorf("user %q: displayName is required", u.ID)
		}
		if _, dup := users[u.ID]; dup {
			return fmt.Errorf("user %q: duplicate id", u.ID)
		}
		users[u.ID] = struct{}{}
	}
	known := func(id string) bool {
		_, ok := users[id]
		return ok
	}

	for i, fr := range f.Friendships {
		if !known(fr.A) || !known(fr.B) {
			return fmt.Errorf("friendships[%d]: unknown user", i)
		}
		if fr.A == fr.B {
			return fmt.Errorf("friendships[%d]: a user cannot befriend themselves", i)
		}
		switch userrepo.FriendStatus(friendStatus(fr.Status)) {
		case userrepo.FriendPending, userrepo.FriendAccepted, userrepo.FriendBlocked:
		default:
			return fmt.Errorf("friendships[%d]: unknown status %q", i, fr.Status)
		}
	}

	rides := make(map[string]struct{}, len(f.Rides))
	for _, r := range f.Rides {
		if r.ID == "" {
			return errors.New("ride id is required")
		}
		if _, dup := rides[r.ID]; dup {
			return fmt.Errorf("ride %q: duplicate id", r.ID)
		}
		rides[r.ID] = struct{}{}
		if !known(r.Organizer) {
			return fmt.Errorf("ride %q: unknown organizer %q", r.ID, r.Organizer)
		}
		if !rideStatus(r.Status).Valid() {
			return fmt.Errorf("ride %q: unknown status %q", r.ID, r.Status)
		}
		for _, p := range []*Point{r.Start, r.Destination} {
			if p == nil {
				continue
			}
			if err := (domain.Location{Latitude: p.Latitude, Longitude: p.Longitude}).Validate(); err != nil {
				return fmt.Errorf("ride %q: %w", r.ID, err)
			}
		}
		for _, p := range r.Participants {
			if !known(p.User) {
				return fmt.Errorf("ride %q: unknown participant %q", r.ID, p.User)
			}
			if p.User == r.Organizer {
				return fmt.Errorf("ride %q: organizer listed as participant", r.ID)
			}
			if !participantStatus(p.Status).Valid() {
				return fmt.Errorf("ride %q: participant %q has unknown status %q", r.ID, p.User, p.Status)
			}
		}
	}
	return nil
}

// Apply writes the seed into the stores. Records that already exist are left untouched so a
// restart against a persistent store is harmless.
func Apply(ctx context.Context, f File, users userrepo.Repository, rides riderepo.Repository, now time.Time) error {
	for _, u := range f.Users {
		err := users.Create(ctx, userrepo.User{
			ID:          domain.UserID(u.ID),
			DisplayName: domain.NormalizeHumanName(u.DisplayName),
			IsActive:    !u.Inactive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil && !errors.Is(err, userrepo.ErrAlreadyExists) {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
	}

	for _, fr := range f.Friendships {
		status := userrepo.FriendStatus(friendStatus(fr.Status))
		if err := users.SetFriendship(ctx, domain.UserID(fr.A), domain.UserID(fr.B), status, now); err != nil {
			return fmt.Errorf("seed friendship %s/%s: %w", fr.A, fr.B, err)
		}
	}

	for _, r := range f.Rides {
		ride := riderepo.Ride{
			ID:             domain.RideID(r.ID),
			Name:           r.Name,
			OrganizerID:    domain.UserID(r.Organizer),
			Status:         rideStatus(r.Status),
			ScheduledStart: r.ScheduledStart,
			StartPoint:     r.Start.geo(),
			Destination:    r.Destination.geo(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if ride.Status == domain.RideStatusActive {
			ride.StartedAt = &now
		}
		err := rides.Create(ctx, ride)
		if errors.Is(err, riderepo.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed ride %q: %w", r.ID, err)
		}

		for _, p := range r.Participants {
			rec := riderepo.Participant{
				RideID:    ride.ID,
				UserID:    domain.UserID(p.User),
				Status:    participantStatus(p.Status),
				UpdatedAt: now,
			}
			if rec.Status == domain.ParticipantJoined {
				rec.JoinedAt = &now
			}
			if err := rides.SaveParticipant(ctx, rec); err != nil {
				return fmt.Errorf("seed participant %q on %q: %w", p.User, r.ID, err)
			}
		}
	}
	return nil
}

func (p *Point) geo() *domain.GeoPoint {
	if p == nil {
		return nil
	}
	return &domain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

func friendStatus(s string) string {
	if s == "" {
		return string(userrepo.FriendAccepted)
	}
	return s
}

func rideStatus(s string) domain.RideStatus {
	if s == "" {
		return domain.RideStatusPlanning
	}
	return domain.RideStatus(s)
}

func participantStatus(s string) domain.ParticipantStatus {
	if s == "" {
		return domain.ParticipantInvited
	}
	return domain.ParticipantStatus(s)
}
