// Package breaker implements a per-provider circuit breaker backed by a
// sliding-window error-rate detector. A tripped breaker rejects requests
// locally instead of burning a full upstream timeout per attempt.
package breaker

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// State is the breaker state machine position.
type State int

const (
	// Closed passes all requests through.
	Closed State = iota
	// Open rejects all requests until the cooldown elapses.
	Open
	// HalfOpen admits a single probe request.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings holds breaker tuning parameters.
type Settings struct {
	// Threshold is the weighted error rate that trips the breaker.
	Threshold float64
	// MinSamples is the minimum window population before tripping.
	MinSamples int
	// WindowSeconds is the sliding window span, capped at 60.
	WindowSeconds int
	// Cooldown is the time spent open before admitting a probe.
	Cooldown time.Duration
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Threshold:     0.30,
		MinSamples:    10,
		WindowSeconds: 60,
		Cooldown:      30 * time.Second,
	}
}

// slot accumulates outcomes for one second of traffic.
type slot struct {
	weight float64
	total  int
}

// window is a ring of per-second slots. The backing array is fixed so the
// window itself never allocates after construction.
type window struct {
	slots    [60]slot
	span     int
	head     int
	headUnix int64
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > 60 {
		seconds = 60
	}
	return window{span: seconds}
}

// advance rotates the head to the current second, zeroing slots that fell
// out of the window.
func (w *window) advance(nowUnix int64) {
	if w.headUnix == 0 {
		w.headUnix = nowUnix
		return
	}
	gap := nowUnix - w.headUnix
	if gap <= 0 {
		return
	}
	n := int(gap)
	if n > w.span {
		n = w.span
	}
	for i := range n {
		w.slots[(w.head+1+i)%w.span] = slot{}
	}
	w.head = (w.head + int(gap)) % w.span
	w.headUnix = nowUnix
}

func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.slots[w.head].total++
	w.slots[w.head].weight += weight
}

func (w *window) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var weight float64
	for i := range w.span {
		weight += w.slots[i].weight
		samples += w.slots[i].total
	}
	if samples == 0 {
		return 0, 0
	}
	return weight / float64(samples), samples
}

func (w *window) reset() {
	for i := range w.span {
		w.slots[i] = slot{}
	}
	w.head = 0
	w.headUnix = 0
}

// Breaker tracks one upstream provider.
type Breaker struct {
	mu       sync.Mutex
	state    State
	window   window
	openedAt time.Time
	lastUsed time.Time
	probing  bool
	settings Settings
}

// NewBreaker returns a closed breaker with the given settings.
func NewBreaker(s Settings) *Breaker {
	return &Breaker{
		state:    Closed,
		window:   newWindow(s.WindowSeconds),
		settings: s,
		lastUsed: time.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed. While half-open exactly one
// probe is admitted; its outcome decides whether the breaker closes.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.openedAt) >= b.settings.Cooldown {
			b.state = HalfOpen
			b.probing = true
			return true
		}
		return false
	case HalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// Observe records a request outcome. A nil error counts as a success and
// closes a half-open breaker; failures are weighted by severity and may
// trip or re-open the breaker.
func (b *Breaker) Observe(err error) {
	now := time.Now()
	weight := errorWeight(err)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(weight, now)

	if weight == 0 {
		if b.state == HalfOpen {
			b.state = Closed
			b.probing = false
			b.window.reset()
		}
		return
	}

	switch b.state {
	case Closed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.settings.MinSamples && rate >= b.settings.Threshold {
			b.state = Open
			b.openedAt = now
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = now
		b.probing = false
	}
}

// LastUsed returns the time of last activity, for stale eviction.
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}

// statusError is any error carrying an upstream HTTP status.
type statusError interface {
	HTTPStatus() int
}

// errorWeight scores an upstream failure for the window. Timeouts weigh
// heaviest since each one costs a full deadline; client errors are the
// caller's fault and score zero.
func errorWeight(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var se statusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		switch {
		case code == 429:
			return 0.5
		case code >= 500:
			return 1.0
		case code >= 400:
			return 0
		}
		return 0
	}
	var ne *net.OpError
	if errors.As(err, &ne) {
		return 1.0
	}
	return 1.0
}

// Registry holds one breaker per provider.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	settings Settings
}

// NewRegistry returns an empty registry using the given settings for new
// breakers.
func NewRegistry(s Settings) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), settings: s}
}

// For returns the breaker for the provider, creating one on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(r.settings)
	r.breakers[provider] = b
	return b
}

// States returns a snapshot of provider states.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}

// EvictStale drops breakers idle since before cutoff and returns the count.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			stale = append(stale, k)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range stale {
		if b, ok := r.breakers[k]; ok && b.LastUsed().Before(cutoff) {
			delete(r.breakers, k)
			evicted++
		}
	}
	return evicted
}
