package detect

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// shardCount is the number of lock shards per rule. Keys for one rule are
// spread across shards so unrelated attacker IPs never contend; operations
// on the same key serialize on its shard.
const shardCount = 16

// observation is one keyed occurrence: event-time plus the optional
// secondary value used by distinct aggregation.
type observation struct {
	ts    time.Time
	value string
}

// windowEntry holds the observations for one (rule, key) pair, sorted by
// event-time. watermark is the maximum event-time seen for the key; all
// eviction is relative to it, never to wall clock, so replayed or batched
// events stay correct.
type windowEntry struct {
	obs        []observation
	watermark  time.Time
	lastAccess time.Time
}

type windowShard struct {
	mu   sync.Mutex
	keys map[string]*windowEntry
}

// ruleWindows is the per-rule namespace: its own shards, its own key
// cap. Keys of different rules can never collide or interfere.
type ruleWindows struct {
	shards    [shardCount]*windowShard
	keyCount  atomic.Int64
	maxWindow atomic.Int64 // nanoseconds; largest window requested, drives the sweep
}

func newRuleWindows() *ruleWindows {
	rw := &ruleWindows{}
	for i := range rw.shards {
		rw.shards[i] = &windowShard{keys: make(map[string]*windowEntry)}
	}
	return rw
}

func (rw *ruleWindows) shardFor(key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return rw.shards[h.Sum32()%shardCount]
}

func (rw *ruleWindows) noteWindow(window time.Duration) {
	for {
		cur := rw.maxWindow.Load()
		if int64(window) <= cur {
			return
		}
		if rw.maxWindow.CompareAndSwap(cur, int64(window)) {
			return
		}
	}
}

// WindowStore tracks keyed occurrences over trailing event-time windows
// with bounded memory. It implements core.WindowStore.
type WindowStore struct {
	mu    sync.RWMutex
	rules map[string]*ruleWindows

	maxKeysPerRule int
	sweepInterval  time.Duration

	logger  *zap.SugaredLogger
	cancel  context.CancelFunc
	sweepWg sync.WaitGroup
}

// NewWindowStore creates a windowed state store and starts its background
// eviction sweep. Call Stop to shut the sweep down.
func NewWindowStore(ctx context.Context, maxKeysPerRule int, sweepInterval time.Duration, logger *zap.SugaredLogger) *WindowStore {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s := &WindowStore{
		rules:          make(map[string]*ruleWindows),
		maxKeysPerRule: maxKeysPerRule,
		sweepInterval:  sweepInterval,
		logger:         logger,
		cancel:         cancel,
	}
	s.startSweep(sweepCtx)
	return s
}

// RecordCount appends an occurrence for key and returns the number of
// occurrences within [ts-window, ts]. Amortized O(log n) in the live
// window size, never O(history).
func (s *WindowStore) RecordCount(ruleID, key string, ts time.Time, window time.Duration) int {
	entry, shard := s.entryFor(ruleID, key, window)
	defer shard.mu.Unlock()

	entry.insert(observation{ts: ts})
	entry.pruneTo(window)
	lo, hi := entry.windowBounds(ts, window)
	return hi - lo
}

// RecordDistinct appends a (ts, value) observation for key and returns the
// number of distinct values within [ts-window, ts]. Re-hitting an
// already-seen value does not increase the count.
func (s *WindowStore) RecordDistinct(ruleID, key string, ts time.Time, window time.Duration, value string) int {
	entry, shard := s.entryFor(ruleID, key, window)
	defer shard.mu.Unlock()

	entry.insert(observation{ts: ts, value: value})
	entry.pruneTo(window)
	lo, hi := entry.windowBounds(ts, window)
	seen := make(map[string]struct{}, hi-lo)
	for i := lo; i < hi; i++ {
		seen[entry.obs[i].value] = struct{}{}
	}
	return len(seen)
}

// KeyCount returns the number of keys currently tracked for a rule.
func (s *WindowStore) KeyCount(ruleID string) int {
	s.mu.RLock()
	rw, ok := s.rules[ruleID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return int(rw.keyCount.Load())
}

// Stop cancels the sweep goroutine and waits for it with a bounded timeout.
func (s *WindowStore) Stop() {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.sweepWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("window store sweep goroutine did not stop within 5s")
	}
}

// entryFor returns the entry for (ruleID, key) with its shard locked. The
// caller must unlock the shard. Creating a key over the rule's cap first
// evicts the oldest-idle key, so detection degrades gracefully instead of
// rejecting new attackers.
func (s *WindowStore) entryFor(ruleID, key string, window time.Duration) (*windowEntry, *windowShard) {
	rw := s.ruleState(ruleID)
	rw.noteWindow(window)
	shard := rw.shardFor(key)

	shard.mu.Lock()
	entry, ok := shard.keys[key]
	if ok {
		entry.lastAccess = time.Now()
		return entry, shard
	}

	if int(rw.keyCount.Load()) >= s.maxKeysPerRule {
		// Eviction locks shards one at a time; release ours first.
		shard.mu.Unlock()
		s.evictOldestIdle(ruleID, rw)
		shard.mu.Lock()
		if entry, ok := shard.keys[key]; ok {
			entry.lastAccess = time.Now()
			return entry, shard
		}
	}

	entry = &windowEntry{lastAccess: time.Now()}
	shard.keys[key] = entry
	metrics.WindowKeysTracked.WithLabelValues(ruleID).Set(float64(rw.keyCount.Add(1)))
	return entry, shard
}

func (s *WindowStore) ruleState(ruleID string) *ruleWindows {
	s.mu.RLock()
	rw, ok := s.rules[ruleID]
	s.mu.RUnlock()
	if ok {
		return rw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rw, ok := s.rules[ruleID]; ok {
		return rw
	}
	rw = newRuleWindows()
	s.rules[ruleID] = rw
	return rw
}

// evictOldestIdle removes the least recently touched key for a rule.
func (s *WindowStore) evictOldestIdle(ruleID string, rw *ruleWindows) {
	var (
		oldestShard *windowShard
		oldestKey   string
		oldestTime  = time.Now()
		found       bool
	)
	for _, shard := range rw.shards {
		shard.mu.Lock()
		for key, entry := range shard.keys {
			if !found || entry.lastAccess.Before(oldestTime) {
				oldestShard = shard
				oldestKey = key
				oldestTime = entry.lastAccess
				found = true
			}
		}
		shard.mu.Unlock()
	}
	if !found {
		return
	}

	oldestShard.mu.Lock()
	if _, ok := oldestShard.keys[oldestKey]; ok {
		delete(oldestShard.keys, oldestKey)
		metrics.WindowKeysTracked.WithLabelValues(ruleID).Set(float64(rw.keyCount.Add(-1)))
		metrics.WindowKeysEvicted.WithLabelValues(ruleID, "capacity").Inc()
		s.logger.Debugw("Evicted oldest-idle window key",
			"rule_id", ruleID,
			"key", oldestKey,
			"last_access", oldestTime)
	}
	oldestShard.mu.Unlock()
}

// startSweep runs the periodic eviction pass. Sweeping is time-triggered
// rather than request-triggered to keep worst-case hot-path latency flat.
func (s *WindowStore) startSweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	s.sweepWg.Add(1)
	go func() {
		defer s.sweepWg.Done()
		defer goroutine.Recover("window-store-sweep", s.logger)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep prunes every key against its own watermark and drops keys with no
// remaining observations, so one-shot attacker IPs cannot accumulate.
func (s *WindowStore) sweep() {
	s.mu.RLock()
	rules := make(map[string]*ruleWindows, len(s.rules))
	for id, rw := range s.rules {
		rules[id] = rw
	}
	s.mu.RUnlock()

	for ruleID, rw := range rules {
		window := time.Duration(rw.maxWindow.Load())
		if window <= 0 {
			continue
		}
		removed := 0
		for _, shard := range rw.shards {
			shard.mu.Lock()
			for key, entry := range shard.keys {
				entry.pruneTo(window)
				if len(entry.obs) == 0 {
					delete(shard.keys, key)
					rw.keyCount.Add(-1)
					removed++
				}
			}
			shard.mu.Unlock()
		}
		metrics.WindowKeysTracked.WithLabelValues(ruleID).Set(float64(rw.keyCount.Load()))
		if removed > 0 {
			metrics.WindowKeysEvicted.WithLabelValues(ruleID, "expired").Add(float64(removed))
			s.logger.Debugw("Window sweep removed empty keys",
				"rule_id", ruleID,
				"removed", removed)
		}
	}
}

// insert places an observation in event-time order. Equal timestamps keep
// arrival order.
func (e *windowEntry) insert(obs observation) {
	i := sort.Search(len(e.obs), func(i int) bool {
		return e.obs[i].ts.After(obs.ts)
	})
	e.obs = append(e.obs, observation{})
	copy(e.obs[i+1:], e.obs[i:])
	e.obs[i] = obs

	if obs.ts.After(e.watermark) {
		e.watermark = obs.ts
	}
}

// pruneTo drops observations older than watermark-window. After a prune no
// observation older than the key's watermark minus the window remains.
func (e *windowEntry) pruneTo(window time.Duration) {
	cutoff := e.watermark.Add(-window)
	i := sort.Search(len(e.obs), func(i int) bool {
		return !e.obs[i].ts.Before(cutoff)
	})
	if i == 0 {
		return
	}
	// Copy the survivors so the backing array does not pin evicted entries.
	kept := make([]observation, len(e.obs)-i)
	copy(kept, e.obs[i:])
	e.obs = kept
}

// windowBounds returns the half-open index range of observations with
// timestamps in [ts-window, ts].
func (e *windowEntry) windowBounds(ts time.Time, window time.Duration) (int, int) {
	start := ts.Add(-window)
	lo := sort.Search(len(e.obs), func(i int) bool {
		return !e.obs[i].ts.Before(start)
	})
	hi := sort.Search(len(e.obs), func(i int) bool {
		return e.obs[i].ts.After(ts)
	})
	return lo, hi
}
