package detect

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAlert(ruleID, key string, ts time.Time) *core.Alert {
	return &core.Alert{
		AlertID:   "a-" + ts.Format(time.RFC3339Nano),
		RuleID:    ruleID,
		Key:       key,
		Timestamp: ts,
	}
}

func TestDedupAdmitsFirstFiring(t *testing.T) {
	d := NewDeduplicator(100, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, d.Admit(testAlert("r", "10.0.0.1", base), time.Minute))
}

func TestDedupSuppressesWithinCooldown(t *testing.T) {
	d := NewDeduplicator(100, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := time.Minute

	assert.True(t, d.Admit(testAlert("r", "10.0.0.1", base), cooldown))
	assert.False(t, d.Admit(testAlert("r", "10.0.0.1", base.Add(30*time.Second)), cooldown))
	assert.False(t, d.Admit(testAlert("r", "10.0.0.1", base.Add(59*time.Second)), cooldown))
	assert.True(t, d.Admit(testAlert("r", "10.0.0.1", base.Add(60*time.Second)), cooldown))
}

func TestDedupAnchorDoesNotSlide(t *testing.T) {
	d := NewDeduplicator(100, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := time.Minute

	// Sustained firings every 30 seconds for three minutes: suppressed
	// firings must not push the next admission further out, so exactly
	// one alert per cool-down period gets through.
	admitted := 0
	for offset := time.Duration(0); offset <= 3*time.Minute; offset += 30 * time.Second {
		if d.Admit(testAlert("r", "10.0.0.1", base.Add(offset)), cooldown) {
			admitted++
		}
	}
	assert.Equal(t, 4, admitted, "one admission at 0m, 1m, 2m, 3m")
}

func TestDedupKeysAreIndependent(t *testing.T) {
	d := NewDeduplicator(100, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := time.Minute

	assert.True(t, d.Admit(testAlert("r", "10.0.0.1", base), cooldown))
	assert.True(t, d.Admit(testAlert("r", "10.0.0.2", base), cooldown))
	assert.True(t, d.Admit(testAlert("other-rule", "10.0.0.1", base), cooldown))
	assert.Equal(t, 3, d.Len())
}

func TestDedupZeroCooldownAdmitsEverything(t *testing.T) {
	d := NewDeduplicator(100, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		assert.True(t, d.Admit(testAlert("r", "k", base.Add(time.Duration(i)*time.Second)), 0))
	}
}

func TestDedupConcurrentFiringsAdmitExactlyOne(t *testing.T) {
	d := NewDeduplicator(10000, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := time.Minute

	const workers = 4
	const rounds = 2000

	// Each round races several workers on one fresh (rule, key): the same
	// threshold crossing seen by concurrent engine workers must admit a
	// single alert, never one per worker.
	for round := 0; round < rounds; round++ {
		key := fmt.Sprintf("10.0.%d.%d", round/256, round%256)
		ruleID := fmt.Sprintf("r%d", round)

		var admitted atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if d.Admit(testAlert(ruleID, key, base), cooldown) {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), admitted.Load(),
			"round %d: concurrent firings for one (rule,key) within one cool-down", round)
	}
}

func TestDedupCapacityBound(t *testing.T) {
	d := NewDeduplicator(10, time.Hour, zap.NewNop().Sugar())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		d.Admit(testAlert("r", time.Duration(i).String(), base), time.Minute)
	}
	assert.LessOrEqual(t, d.Len(), 10)
}
