package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry is one stored value. value holds a string, a []string list, or a
// map[string]struct{} set. A zero expiresAt means the entry never expires.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process implementation of Store.
//
// It backs the layer when no Redis backend is configured or reachable at
// startup. State lives in a single map guarded by a mutex, so increments are
// serialized and therefore atomic within the process. Expiry is lazy: an
// entry whose deadline has passed is treated as absent and removed on the
// access that observes it. An optional janitor goroutine sweeps expired
// entries so the map does not grow without bound between accesses.
//
// MemoryStore state is lost on process restart by design; it is explicitly
// single-process and makes no cross-node guarantees.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now is swappable in tests.
	now func() time.Time
}

// NewMemory creates a MemoryStore.
//
// ctx bounds the lifetime of the background sweep goroutine.
// cleanupInterval is how often expired entries are swept; pass 0 to rely on
// lazy expiry alone.
//
// Example:
//
//	store := kvstore.NewMemory(ctx, 10*time.Minute)
func NewMemory(ctx context.Context, cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		go s.runCleanup(ctx, cleanupInterval)
	}
	return s
}

// live returns the entry for key, evicting it first if it has expired.
// The caller must hold s.mu.
func (s *MemoryStore) live(key string, now time.Time) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// Get retrieves the string value for key. Expired entries are absent.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, s.now())
	if !ok {
		return "", false, nil
	}
	v, ok := e.value.(string)
	if !ok {
		return "", false, ErrWrongType
	}
	return v, true, nil
}

// Set stores value under key. A non-positive ttl applies DefaultTTL.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Incr atomically increments the integer at key, starting from 0 when the
// key is absent or expired. The new entry carries no TTL; callers set the
// window with Expire.
func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(key)
}

func (s *MemoryStore) incrLocked(key string) (int64, error) {
	e, ok := s.live(key, s.now())
	if !ok {
		s.entries[key] = &entry{value: "1"}
		return 1, nil
	}

	v, ok := e.value.(string)
	if !ok {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire sets the TTL of an existing key; absent keys are a no-op.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key, ttl)
	return nil
}

func (s *MemoryStore) expireLocked(key string, ttl time.Duration) bool {
	now := s.now()
	e, ok := s.live(key, now)
	if !ok {
		return false
	}
	e.expiresAt = now.Add(ttl)
	return true
}

// TTL reports the remaining lifetime of key.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(key, now)
	if !ok {
		return TTLMissing, nil
	}
	if e.expiresAt.IsZero() {
		return TTLNone, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Del removes key and reports whether a live entry existed.
func (s *MemoryStore) Del(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delLocked(key), nil
}

func (s *MemoryStore) delLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	return !e.expired(s.now())
}

// Keys returns all live keys matching the '*'-only glob pattern.
//
// Logically-expired entries that have not yet been lazily evicted are
// filtered out here without being removed, so Keys never mutates the map.
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var matches []string
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if re.MatchString(k) {
			matches = append(matches, k)
		}
	}
	return matches, nil
}

// LPush prepends values to the list at key. The first value in values ends
// up closest to the head, matching Redis LPUSH ordering.
func (s *MemoryStore) LPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(key)
	if err != nil {
		return err
	}
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	s.setListLocked(key, list)
	return nil
}

// LTrim keeps the inclusive range [start, stop] of the list at key.
// stop = -1 keeps through the last element. An empty result removes the key.
func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(key)
	if err != nil {
		return err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(list)))
	if !ok {
		delete(s.entries, key)
		return nil
	}
	s.setListLocked(key, list[lo:hi+1])
	return nil
}

// LRange returns the inclusive range [start, stop] of the list at key.
func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(list)))
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

// listLocked returns the list at key, or nil when absent/expired.
// The caller must hold s.mu.
func (s *MemoryStore) listLocked(key string) ([]string, error) {
	e, ok := s.live(key, s.now())
	if !ok {
		return nil, nil
	}
	list, ok := e.value.([]string)
	if !ok {
		return nil, ErrWrongType
	}
	return list, nil
}

// setListLocked replaces the list at key, preserving any existing TTL.
func (s *MemoryStore) setListLocked(key string, list []string) {
	if e, ok := s.entries[key]; ok && !e.expired(s.now()) {
		e.value = list
		return
	}
	s.entries[key] = &entry{value: list}
}

// SAdd adds members to the set at key.
func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.setLocked(key)
	if err != nil {
		return err
	}
	if set == nil {
		set = make(map[string]struct{}, len(members))
		s.entries[key] = &entry{value: set}
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SRem removes members from the set at key, deleting the key when it empties.
func (s *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.setLocked(key)
	if err != nil || set == nil {
		return err
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.entries, key)
	}
	return nil
}

// SCard returns the number of members in the set at key.
func (s *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.setLocked(key)
	if err != nil {
		return 0, err
	}
	return int64(len(set)), nil
}

// SMembers returns all members of the set at key.
func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.setLocked(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

// setLocked returns the set at key, or nil when absent/expired.
// The caller must hold s.mu.
func (s *MemoryStore) setLocked(key string) (map[string]struct{}, error) {
	e, ok := s.live(key, s.now())
	if !ok {
		return nil, nil
	}
	set, ok := e.value.(map[string]struct{})
	if !ok {
		return nil, ErrWrongType
	}
	return set, nil
}

// Multi returns a transaction builder. Queued operations run sequentially
// under the store lock when Exec is called; see Tx for the guarantee.
func (s *MemoryStore) Multi() Tx {
	return &memoryTx{store: s}
}

// Ping always succeeds: if the process is alive, so is the store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len reports the number of entries currently held, including
// logically-expired entries awaiting eviction. Intended for tests and
// introspection.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes every expired entry. Normally invoked by the janitor
// goroutine started in NewMemory.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

// runCleanup periodically sweeps expired entries until ctx is done.
func (s *MemoryStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

type txOpKind int

const (
	txIncr txOpKind = iota
	txExpire
	txDel
)

type txOp struct {
	kind txOpKind
	key  string
	ttl  time.Duration
}

// memoryTx executes its queued operations back to back under the store
// lock. A mid-batch error stops execution and is returned once; earlier
// operations stay applied.
type memoryTx struct {
	store *MemoryStore
	ops   []txOp
}

func (t *memoryTx) Incr(key string) {
	t.ops = append(t.ops, txOp{kind: txIncr, key: key})
}

func (t *memoryTx) Expire(key string, ttl time.Duration) {
	t.ops = append(t.ops, txOp{kind: txExpire, key: key, ttl: ttl})
}

func (t *memoryTx) Del(key string) {
	t.ops = append(t.ops, txOp{kind: txDel, key: key})
}

func (t *memoryTx) Exec(ctx context.Context) ([]int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	results := make([]int64, 0, len(t.ops))
	for _, op := range t.ops {
		switch op.kind {
		case txIncr:
			n, err := t.store.incrLocked(op.key)
			if err != nil {
				return results, err
			}
			results = append(results, n)
		case txExpire:
			if t.store.expireLocked(op.key, op.ttl) {
				results = append(results, 1)
			} else {
				results = append(results, 0)
			}
		case txDel:
			if t.store.delLocked(op.key) {
				results = append(results, 1)
			} else {
				results = append(results, 0)
			}
		}
	}
	t.ops = nil
	return results, nil
}

// normalizeRange converts Redis-style inclusive list indexes (negative
// counts from the end) into slice bounds. ok is false when the range is
// empty.
func normalizeRange(start, stop, n int64) (lo, hi int64, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}
