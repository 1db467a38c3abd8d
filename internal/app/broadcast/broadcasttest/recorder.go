// Package broadcasttest provides recording fakes for outbound delivery.
package broadcasttest

import (
	"sync"

	"github.com/Overland-East-Bay/ride-live-api/internal/app/broadcast"
	"github.com/Overland-East-Bay/ride-live-api/internal/domain"
)

// Sink records every event it accepts. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	events []broadcast.Event
	// Reject makes Send report a drop without recording.
	Reject bool
}

func (s *Sink) Send(ev broadcast.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Reject {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *Sink) Events() []broadcast.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broadcast.Event(nil), s.events...)
}

// Names lists recorded event names in order.
func (s *Sink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Name)
	}
	return out
}

// Named returns the recorded events with the given name.
func (s *Sink) Named(name string) []broadcast.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []broadcast.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Sink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// Sinks attaches a fresh recording sink per connection id to a hub.
type Sinks struct {
	hub *broadcast.Hub

	mu sync.Mutex
	m  map[domain.ConnectionID]*Sink
}

func NewSinks(hub *broadcast.Hub) *Sinks {
	return &Sinks{hub: hub, m: make(map[domain.ConnectionID]*Sink)}
}

// Attach returns the sink for conn, attaching it on first use.
func (s *Sinks) Attach(conn domain.ConnectionID) *Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.m[conn]; ok {
		return sink
	}
	sink := &Sink{}
	s.m[conn] = sink
	s.hub.Attach(conn, sink)
	return sink
}
