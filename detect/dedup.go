package detect

import (
	"hash/fnv"
	"sync"
	"time"

	"argus/core"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// dedupShardCount is the number of lock shards for admission checks.
// Different (rule, key) pairs must not contend; checks for the same pair
// serialize on their shard.
const dedupShardCount = 16

// Deduplicator suppresses repeated firings of the same (rule, key) while the
// underlying condition persists.
//
// Policy: the last-admitted timestamp is advanced only on admit, so
// sustained qualifying traffic yields one alert per cool-down period. A
// suppressed firing still refreshes the entry's retention, so an entry only
// ages out once the traffic actually stops.
type Deduplicator struct {
	entries *expirable.LRU[string, time.Time]
	locks   [dedupShardCount]sync.Mutex
	logger  *zap.SugaredLogger
}

// NewDeduplicator creates a deduplicator. retention bounds how long an
// entry survives without any firing (cool-down times the configured
// multiplier); maxEntries caps memory under key-spray attacks.
func NewDeduplicator(maxEntries int, retention time.Duration, logger *zap.SugaredLogger) *Deduplicator {
	return &Deduplicator{
		entries: expirable.NewLRU[string, time.Time](maxEntries, nil, retention),
		logger:  logger,
	}
}

// Admit reports whether the candidate alert should be emitted. Comparison
// uses event-time, matching the windowing watermarks. The check-and-refresh
// is serialized per (rule, key) so concurrent workers firing on the same
// threshold crossing admit exactly one alert.
func (d *Deduplicator) Admit(alert *core.Alert, cooldown time.Duration) bool {
	key := alert.RuleID + "\x00" + alert.Key

	lock := &d.locks[shardIndex(key)]
	lock.Lock()
	defer lock.Unlock()

	last, ok := d.entries.Get(key)
	if ok && cooldown > 0 && alert.Timestamp.Sub(last) < cooldown {
		// Re-adding under the same timestamp resets the entry's TTL
		// without moving the cool-down anchor.
		d.entries.Add(key, last)
		d.logger.Debugw("Alert suppressed by cool-down",
			"rule_id", alert.RuleID,
			"key", alert.Key,
			"last_admitted", last)
		return false
	}

	d.entries.Add(key, alert.Timestamp)
	return true
}

// Len returns the number of live dedup entries.
func (d *Deduplicator) Len() int {
	return d.entries.Len()
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % dedupShardCount
}
