package match

import (
	"context"
	"sync"
)

// RoomStore is the injected room registry. The in-memory implementation is the
// default; a Redis-backed one exists for running several coordinators against
// a shared registry.
type RoomStore interface {
	Save(ctx context.Context, r *Room) error
	// Get returns nil, nil when the room does not exist.
	Get(ctx context.Context, id string) (*Room, error)
	Delete(ctx context.Context, id string) error
	// Challenges lists publicly visible rooms still waiting for an opponent.
	Challenges(ctx context.Context) ([]*Room, error)
	// ByPlayer lists every room the wallet is seated in.
	ByPlayer(ctx context.Context, addr string) ([]*Room, error)
	// Count reports the number of live rooms.
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps all rooms in a process-local map. State lives exactly as
// long as the process; a restart drops every in-flight match.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

func (s *MemoryStore) Save(_ context.Context, r *Room) error {
	if r == nil || r.ID == "" {
		return ErrInvalidArgs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id].Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) Challenges(_ context.Context) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Room
	for _, r := range s.rooms {
		if r.Challenge && r.Status == StatusWaiting && r.PlayerColors.B == "" {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ByPlayer(_ context.Context, addr string) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Room
	for _, r := range s.rooms {
		if r.HasPlayer(addr) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

func (s *MemoryStore) Close() error { return nil }
