package cell

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryConn is an in-process Conn that understands CL.THROTTLE and answers
// with the same five-integer reply shape as the redis-cell module, computed
// with GCRA. It exists so the full encode/decode path can run in development
// and tests without a server; it is not a production limiter.
//
// Thread-safe for concurrent use. Includes background cleanup of idle keys
// to prevent unbounded memory growth; call StartCleanup to enable it and
// Stop to shut it down.
type MemoryConn struct {
	cells           map[string]time.Time // theoretical arrival time per key
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
	now             func() time.Time
}

// NewMemoryConn creates a MemoryConn with default cleanup settings
// (interval 5 minutes, idle TTL 1 hour).
func NewMemoryConn() *MemoryConn {
	return NewMemoryConnWithConfig(5*time.Minute, time.Hour)
}

// NewMemoryConnWithConfig creates a MemoryConn with custom cleanup settings.
func NewMemoryConnWithConfig(cleanupInterval, maxTTL time.Duration) *MemoryConn {
	return &MemoryConn{
		cells:           make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		now:             time.Now,
	}
}

// Do implements Conn. Anything other than a well-formed CL.THROTTLE command
// is answered with an error reply, like a server without the module loaded.
func (m *MemoryConn) Do(ctx context.Context, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx, args...)

	key, p, err := parseThrottleArgs(args)
	if err != nil {
		cmd.SetErr(err)
		return cmd
	}

	cmd.SetVal(m.throttle(key, p))
	return cmd
}

// parseThrottleArgs validates and decodes a CL.THROTTLE argument list back
// into its key and policy. The accepted shape mirrors Command.
func parseThrottleArgs(args []interface{}) (string, Policy, error) {
	if len(args) != 6 {
		return "", Policy{}, fmt.Errorf("ERR wrong number of arguments for '%s' command", CommandName)
	}
	name, ok := args[0].(string)
	if !ok || name != CommandName {
		return "", Policy{}, fmt.Errorf("ERR unknown command '%v'", args[0])
	}
	key := fmt.Sprint(args[1])

	nums := make([]int64, 4)
	for i, a := range args[2:] {
		n, err := argInt(a)
		if err != nil {
			return "", Policy{}, fmt.Errorf("ERR value is not an integer or out of range: %v", a)
		}
		nums[i] = n
	}

	p := Policy{
		Burst:  int(nums[0]),
		Tokens: int(nums[1]),
		Period: time.Duration(nums[2]) * time.Second,
		Apply:  int(nums[3]),
	}
	if err := p.Validate(); err != nil {
		return "", Policy{}, fmt.Errorf("ERR invalid parameter: %v", err)
	}
	return key, p, nil
}

// argInt accepts the integer renderings a client may put on the wire.
func argInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// throttle runs one GCRA check-and-charge for the key and renders the
// five-integer reply.
//
// The emission interval is period/tokens; the tolerated depth is the larger
// of tokens and burst, so a policy of N per period admits N back-to-back
// requests before blocking, counting remaining down from N-1 to 0.
func (m *MemoryConn) throttle(key string, p Policy) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	emission := p.Period / time.Duration(p.Tokens)
	capacity := p.Tokens
	if p.Burst > capacity {
		capacity = p.Burst
	}
	tolerance := emission * time.Duration(capacity)

	tat, exists := m.cells[key]
	if !exists || tat.Before(now) {
		tat = now
	}

	newTAT := tat.Add(emission * time.Duration(p.Apply))
	allowAt := newTAT.Add(-tolerance)

	if now.Before(allowAt) {
		remaining := int64((tolerance - tat.Sub(now)) / emission)
		if remaining < 0 {
			remaining = 0
		}
		return []interface{}{
			int64(1),
			int64(capacity),
			remaining,
			ceilSeconds(allowAt.Sub(now)),
			ceilSeconds(tat.Sub(now)),
		}
	}

	m.cells[key] = newTAT
	remaining := int64((tolerance - newTAT.Sub(now)) / emission)
	if remaining < 0 {
		remaining = 0
	}
	return []interface{}{
		int64(0),
		int64(capacity),
		remaining,
		int64(-1),
		ceilSeconds(newTAT.Sub(now)),
	}
}

// ceilSeconds rounds a duration up to whole seconds, never below zero.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// StartCleanup starts the background goroutine that drops keys idle past
// maxTTL. It stops when ctx is cancelled or Stop is called.
func (m *MemoryConn) StartCleanup(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
}

// cleanup removes keys whose theoretical arrival time is older than maxTTL.
func (m *MemoryConn) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.maxTTL)
	cleaned := 0

	for key, tat := range m.cells {
		if tat.Before(cutoff) {
			delete(m.cells, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("memory conn cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(m.cells))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times, and safe to call when StartCleanup was never
// called.
func (m *MemoryConn) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

// Size returns the current number of tracked keys. Useful for tests and
// monitoring memory usage.
func (m *MemoryConn) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cells)
}

// Compile-time interface verification.
var _ Conn = (*MemoryConn)(nil)
