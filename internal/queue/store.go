package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"imagine-manager/internal/model"
	"imagine-manager/internal/runstore"
)

const persistTimeout = 5 * time.Second

type StoreOptions struct {
	// Name is the queue name and the storage key it persists under.
	Name   string
	KV     runstore.KV
	Logger *zap.Logger
	Now    func() time.Time
}

// Store owns an ordered item list. All mutation goes through its methods so
// persistence and observer notification stay in step with memory state.
type Store struct {
	name   string
	kv     runstore.KV
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	items      []model.QueueItem
	index      map[string]int
	persistErr error
	seq        uint64

	// writeMu serializes storage writes; it is never taken while holding mu.
	writeMu sync.Mutex
	written uint64

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

func NewStore(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	kv := opts.KV
	if kv == nil {
		kv = runstore.NewMemoryKV()
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "queue"
	}
	return &Store{
		name:      name,
		kv:        kv,
		logger:    logger.With(zap.String("queue", name)),
		now:       now,
		index:     make(map[string]int),
		observers: make(map[int]Observer),
	}
}

func (s *Store) Name() string {
	return s.name
}

// Init rehydrates the store from durable storage. Storage problems are
// logged and leave the store empty; they are never fatal. Items that were
// processing when the previous session ended are demoted to pending.
func (s *Store) Init(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	data, err := s.kv.Get(loadCtx, s.name)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("queue storage unavailable, starting empty", zap.Error(err))
		s.mu.Lock()
		s.persistErr = err
		s.mu.Unlock()
		return nil
	}

	var doc model.PersistedQueue
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("persisted queue unreadable, starting empty", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.items = s.items[:0]
	s.index = make(map[string]int, len(doc.Items))
	demoted := 0
	for _, it := range doc.Items {
		it.Key = strings.TrimSpace(it.Key)
		if it.Key == "" {
			continue
		}
		if _, dup := s.index[it.Key]; dup {
			continue
		}
		if !model.IsKnownStatus(it.Status) {
			it.Status = model.StatusPending
			it.Error = ""
		}
		if model.DemoteStale(&it) {
			demoted++
		}
		s.index[it.Key] = len(s.items)
		s.items = append(s.items, it)
	}
	var w snapshot
	if demoted > 0 {
		s.logger.Info("demoted interrupted items to pending", zap.Int("count", demoted))
		w = s.snapshotLocked()
	}
	s.logger.Debug("queue rehydrated", zap.Int("items", len(s.items)))
	s.mu.Unlock()

	s.persist(w)
	return nil
}

// Enqueue appends items whose key is not already present and returns the
// keys that were added. Existing items are never reordered or touched.
func (s *Store) Enqueue(items []model.QueueItem) []string {
	s.mu.Lock()
	added := make([]string, 0, len(items))
	now := s.now().UTC()
	for _, it := range items {
		key := strings.TrimSpace(it.Key)
		if key == "" {
			continue
		}
		if _, exists := s.index[key]; exists {
			continue
		}
		it.Key = key
		it.Status = model.StatusPending
		it.Error = ""
		if it.AddedAt.IsZero() {
			it.AddedAt = now
		}
		s.index[key] = len(s.items)
		s.items = append(s.items, it)
		added = append(added, key)
	}
	var w snapshot
	if len(added) > 0 {
		w = s.snapshotLocked()
	}
	s.mu.Unlock()
	s.persist(w)

	if len(added) > 0 {
		s.notify(Event{Kind: EventEnqueued, Keys: added})
	}
	return added
}

// UpdateStatus applies one status transition. Unknown keys are a no-op and
// illegal transitions are rejected; both report false.
func (s *Store) UpdateStatus(key, status, errMsg string) bool {
	s.mu.Lock()
	i, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	it := &s.items[i]
	if err := model.TransitionItemStatus(it, status, errMsg); err != nil {
		s.mu.Unlock()
		s.logger.Warn("rejected status update", zap.String("key", key), zap.Error(err))
		return false
	}
	snapshot := *it
	w := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(w)

	s.notify(Event{Kind: EventItemStatus, Item: snapshot})
	return true
}

// UpdateProgress records step progress for a multi-step item. Only items
// currently processing accept progress.
func (s *Store) UpdateProgress(key string, done, total int) bool {
	s.mu.Lock()
	i, ok := s.index[key]
	if !ok || s.items[i].Status != model.StatusProcessing {
		s.mu.Unlock()
		return false
	}
	it := &s.items[i]
	if total < 0 {
		total = 0
	}
	if done > total {
		done = total
	}
	it.ProcessedItems = done
	it.TotalItems = total
	if total > 0 {
		it.Progress = float64(done) / float64(total)
	} else {
		it.Progress = 0
	}
	snapshot := *it
	w := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(w)

	s.notify(Event{Kind: EventItemProgress, Item: snapshot})
	return true
}

// ClearCompleted drops completed items and returns how many were removed.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	kept := s.items[:0]
	removed := make([]string, 0)
	for _, it := range s.items {
		if it.Status == model.StatusCompleted {
			removed = append(removed, it.Key)
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	s.reindexLocked()
	var w snapshot
	if len(removed) > 0 {
		w = s.snapshotLocked()
	}
	s.mu.Unlock()
	s.persist(w)

	if len(removed) > 0 {
		s.notify(Event{Kind: EventCleared, Keys: removed})
	}
	return len(removed)
}

// ClearAll empties the store. Processing is halted by the owning Queue.
func (s *Store) ClearAll() {
	s.mu.Lock()
	removed := make([]string, 0, len(s.items))
	for _, it := range s.items {
		removed = append(removed, it.Key)
	}
	s.items = nil
	s.index = make(map[string]int)
	w := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(w)

	s.notify(Event{Kind: EventCleared, Keys: removed})
}

func (s *Store) Items() []model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Get(key string) (model.QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return model.QueueItem{}, false
	}
	return s.items[i], true
}

func (s *Store) Counts() model.QueueCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CountItems(s.items)
}

// PersistError reports the last storage failure, if the most recent write
// did not reach durable storage.
func (s *Store) PersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) pendingSnapshot() []model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueItem, 0)
	for _, it := range s.items {
		if it.Status == model.StatusPending {
			out = append(out, it)
		}
	}
	return out
}

func (s *Store) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Status == model.StatusPending {
			return true
		}
	}
	return false
}

func (s *Store) notify(ev Event) {
	ev.Queue = s.name
	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (s *Store) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, it := range s.items {
		s.index[it.Key] = i
	}
}

// snapshot is an encoded queue state waiting to be written.
type snapshot struct {
	seq  uint64
	data []byte
}

// snapshotLocked encodes the items while s.mu is held. The write itself
// happens in persist after the lock is released.
func (s *Store) snapshotLocked() snapshot {
	doc := model.PersistedQueue{
		SchemaVersion: model.QueueSchemaVersion,
		SavedAt:       s.now().UTC().Format(time.RFC3339),
		Items:         s.items,
	}
	if doc.Items == nil {
		doc.Items = []model.QueueItem{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.persistErr = err
		s.logger.Error("marshal queue state", zap.Error(err))
		return snapshot{}
	}
	s.seq++
	return snapshot{seq: s.seq, data: data}
}

// persist writes w unless a newer snapshot already reached storage.
func (s *Store) persist(w snapshot) {
	if w.data == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if w.seq <= s.written {
		return
	}
	s.written = w.seq

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := s.kv.Put(ctx, s.name, w.data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.persistErr == nil {
			s.logger.Warn("queue state not persisted", zap.Error(err))
		}
		s.persistErr = err
		return
	}
	if s.persistErr != nil {
		s.logger.Info("queue storage recovered")
	}
	s.persistErr = nil
}
