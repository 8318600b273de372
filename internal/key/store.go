package key

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store holds the resident signing keys by id.
//
// Every method runs under a single lock, so a sweep racing an insert can
// never drop the fresh key and a selection never sees a half-removed entry.
type Store struct {
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	mu           sync.Mutex
	keys         map[string]*SigningKey
	seq          uint64
	lastModified time.Time
}

// NewStore creates an empty store. A nil now defaults to time.Now.
func NewStore(logger *slog.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		logger:   logger,
		recorder: nopRecorder{},
		now:      now,
		keys:     make(map[string]*SigningKey),
	}
}

// SetRecorder installs r as the sink for store events.
func (s *Store) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
	r.StoreSize(len(s.keys))
}

func (s *Store) Insert(k SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[k.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, k.ID)
	}
	s.seq++
	k.seq = s.seq
	s.keys[k.ID] = &k
	s.touch()
	return nil
}

// All returns a snapshot of every resident key, newest first. It does not
// sweep.
func (s *Store) All() []SigningKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Get returns the key with the given id without sweeping.
func (s *Store) Get(id string) (SigningKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return SigningKey{}, false
	}
	return *k, true
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return false
	}
	delete(s.keys, id)
	s.touch()
	return true
}

// Clear drops every key.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) == 0 {
		return
	}
	s.keys = make(map[string]*SigningKey)
	s.touch()
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys) == 0
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Sweep removes every key whose expiry is at or before now and returns
// their ids.
func (s *Store) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep()
}

// Live sweeps and returns the remaining keys, newest first, in one step.
func (s *Store) Live() []SigningKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return s.snapshot()
}

// Newest sweeps and returns the most recently inserted key that is still
// resident. Insertion order is the selection policy for signing.
func (s *Store) Newest() (SigningKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	var newest *SigningKey
	for _, k := range s.keys {
		if newest == nil || k.seq > newest.seq {
			newest = k
		}
	}
	if newest == nil {
		return SigningKey{}, false
	}
	return *newest, true
}

// LastModified is the time of the last insertion or removal.
func (s *Store) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

func (s *Store) sweep() []string {
	now := s.now()
	var removed []string
	for id, k := range s.keys {
		if k.ExpiredAt(now) {
			delete(s.keys, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	sort.Strings(removed)
	s.touch()
	s.recorder.KeysReaped(len(removed))
	s.logger.Info("Reaped expired keys", slog.Any("key-ids", removed), slog.Int("num-keys", len(s.keys)))
	return removed
}

func (s *Store) snapshot() []SigningKey {
	rv := make([]SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		rv = append(rv, *k)
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].seq > rv[j].seq })
	return rv
}

func (s *Store) touch() {
	s.lastModified = s.now()
	s.recorder.StoreSize(len(s.keys))
}
