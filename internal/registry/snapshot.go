package registry

import (
	"sort"
	"sync/atomic"
	"time"
)

// Origin identifies where a snapshot came from.
type Origin string

// Snapshot origins.
const (
	OriginRemote   Origin = "remote"
	OriginFallback Origin = "fallback"
)

// Snapshot is an immutable view of the desired stream set at one point
// in time. Consumers must never mutate the Streams map.
type Snapshot struct {
	Streams   map[string]StreamDescriptor
	Origin    Origin
	FetchedAt time.Time
}

// NewSnapshot builds a snapshot from a descriptor list. Later duplicates
// of the same ID win.
func NewSnapshot(descriptors []StreamDescriptor, origin Origin) *Snapshot {
	streams := make(map[string]StreamDescriptor, len(descriptors))
	for _, d := range descriptors {
		streams[d.ID] = d
	}
	return &Snapshot{
		Streams:   streams,
		Origin:    origin,
		FetchedAt: time.Now(),
	}
}

// Get returns the descriptor for id, if present.
func (s *Snapshot) Get(id string) (StreamDescriptor, bool) {
	d, ok := s.Streams[id]
	return d, ok
}

// Len returns the number of streams in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Streams)
}

// IDs returns the stream identifiers in sorted order.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Streams))
	for id := range s.Streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store holds the current snapshot behind an atomic pointer. Readers
// get a consistent snapshot without locking; the poller swaps in whole
// replacements.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates an empty store. Current returns nil until the first
// Install.
func NewStore() *Store {
	return &Store{}
}

// Current returns the most recently installed snapshot, or nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Install atomically replaces the current snapshot.
func (s *Store) Install(snapshot *Snapshot) {
	s.current.Store(snapshot)
}
