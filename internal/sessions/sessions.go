// Package sessions keeps live conversations in memory, keyed by profile
// and conversation id, with idle expiry and a size bound.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/pipeline"
	"github.com/agentoven/aria/internal/store"
)

// Options bound the store.
type Options struct {
	Window       int           // messages kept per conversation
	ChartHistory int           // charts kept per conversation
	TTL          time.Duration // idle time before eviction; 0 disables
	MaxEntries   int           // 0 means unbounded
}

// Store is a thread-safe in-memory conversation store.
type Store struct {
	mu    sync.Mutex
	opts  Options
	convs map[convKey]*pipeline.Conversation
	now   func() time.Time
}

// New creates an empty store.
func New(opts Options) *Store {
	return &Store{opts: opts, convs: make(map[convKey]*pipeline.Conversation), now: time.Now}
}

type convKey struct {
	profile string
	id      string
}

func key(profile, id string) convKey { return convKey{profile: profile, id: id} }

// GetOrCreate returns the conversation, creating it on first use.
func (s *Store) GetOrCreate(profile, id string) *pipeline.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(profile, id)
	if c, ok := s.convs[k]; ok && !s.expired(c) {
		return c
	}
	c := pipeline.NewConversation(id, s.opts.Window, s.opts.ChartHistory)
	s.convs[k] = c
	s.evictLocked(k)
	return c
}

// Get returns an existing conversation.
func (s *Store) Get(profile, id string) (*pipeline.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key(profile, id)]
	if !ok || s.expired(c) {
		return nil, &store.ErrNotFound{Entity: "conversation", Key: id}
	}
	return c, nil
}

// Delete removes a conversation.
func (s *Store) Delete(profile, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(profile, id)
	if _, ok := s.convs[k]; !ok {
		return &store.ErrNotFound{Entity: "conversation", Key: id}
	}
	delete(s.convs, k)
	return nil
}

// Len reports the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// Sweep drops expired conversations and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.convs {
		if s.expired(c) && !c.Busy() {
			delete(s.convs, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.opts.TTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Info().Int("removed", n).Msg("🧹 Expired conversations swept")
			}
		}
	}
}

func (s *Store) expired(c *pipeline.Conversation) bool {
	return s.opts.TTL > 0 && s.now().Sub(c.UpdatedAt()) > s.opts.TTL
}

// evictLocked drops the least recently updated conversations beyond
// MaxEntries, never the one under keep nor one with a question in flight.
// The store may stay over the bound until those finish.
func (s *Store) evictLocked(keep convKey) {
	if s.opts.MaxEntries <= 0 || len(s.convs) <= s.opts.MaxEntries {
		return
	}
	type entry struct {
		key     convKey
		updated time.Time
	}
	entries := make([]entry, 0, len(s.convs))
	for k, c := range s.convs {
		if k != keep && !c.Busy() {
			entries = append(entries, entry{k, c.UpdatedAt()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].updated.Before(entries[j].updated) })
	excess := min(len(s.convs)-s.opts.MaxEntries, len(entries))
	for _, e := range entries[:excess] {
		delete(s.convs, e.key)
	}
}
