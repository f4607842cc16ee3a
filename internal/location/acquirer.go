// Package location models device position acquisition as a cancellable,
// time-bounded request with an explicit retry path.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

var (
	// ErrAcquiring is returned when a request is already in flight. At most
	// one request may be outstanding.
	ErrAcquiring = errors.New("location acquisition already in progress")
	// ErrBlocked is returned on timeout or provider failure. The only way out
	// is an explicit Retry; the acquirer never re-polls on its own.
	ErrBlocked = errors.New("location access blocked")
	// ErrInvalidFix is returned when the provider hands back coordinates
	// outside geographic range.
	ErrInvalidFix = errors.New("provider returned an invalid fix")
	// ErrNotBlocked is returned by Retry outside the Blocked state. Retry is
	// the recovery path for a failed acquisition, not a general refresh.
	ErrNotBlocked = errors.New("retry is only allowed while blocked")
)

type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateAcquired:
		return "acquired"
	case StateBlocked:
		return "blocked"
	}
	return "unknown"
}

// PositionProvider is the device or collaborator that produces a raw fix.
// Implementations should honor ctx cancellation.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (report.GPSFix, error)
}

type ProviderFunc func(ctx context.Context) (report.GPSFix, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context) (report.GPSFix, error) {
	return f(ctx)
}

// AddressSink receives the resolution triggered after a successful fix.
type AddressSink func(fix report.GPSFix)

// Acquirer drives Idle -> Acquiring -> {Acquired, Blocked}. A later retry
// supersedes the previous fix rather than mutating it.
type Acquirer struct {
	provider PositionProvider
	timeout  time.Duration
	onFix    AddressSink
	log      zerolog.Logger

	mu    sync.Mutex
	state State
	fix   *report.GPSFix
	alive bool
}

func NewAcquirer(provider PositionProvider, timeout time.Duration, onFix AddressSink, log zerolog.Logger) *Acquirer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Acquirer{
		provider: provider,
		timeout:  timeout,
		onFix:    onFix,
		log:      log,
		state:    StateIdle,
		alive:    true,
	}
}

func (a *Acquirer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Fix returns the current fix, if acquired.
func (a *Acquirer) Fix() (report.GPSFix, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fix == nil {
		return report.GPSFix{}, false
	}
	return *a.fix, true
}

// Acquire requests one position fix with the configured bound. Allowed from
// Idle, Blocked, or Acquired (a manual refresh); rejected while a request is
// in flight.
func (a *Acquirer) Acquire(ctx context.Context) (report.GPSFix, error) {
	a.mu.Lock()
	if a.state == StateAcquiring {
		a.mu.Unlock()
		return report.GPSFix{}, ErrAcquiring
	}
	a.state = StateAcquiring
	a.mu.Unlock()

	a.log.Debug().Dur("timeout", a.timeout).Msg("acquiring position")

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fix, err := a.provider.CurrentPosition(reqCtx)
	if err != nil {
		a.block()
		a.log.Warn().Err(err).Msg("position request failed")
		return report.GPSFix{}, errors.Join(ErrBlocked, err)
	}
	if !fix.Valid() {
		a.block()
		a.log.Warn().
			Float64("lat", fix.Lat).
			Float64("lng", fix.Lng).
			Msg("provider returned out-of-range coordinates")
		return report.GPSFix{}, errors.Join(ErrBlocked, ErrInvalidFix)
	}
	if fix.AcquiredAt.IsZero() {
		fix.AcquiredAt = time.Now()
	}

	a.mu.Lock()
	a.state = StateAcquired
	a.fix = &fix
	sink := a.onFix
	alive := a.alive
	a.mu.Unlock()

	a.log.Info().Float64("lat", fix.Lat).Float64("lng", fix.Lng).Msg("position acquired")

	// Address resolution is fire-and-forget and must observe the liveness
	// flag: the owning view may be gone by the time the fix lands.
	if sink != nil && alive {
		go func() {
			a.mu.Lock()
			stillAlive := a.alive
			a.mu.Unlock()
			if stillAlive {
				sink(fix)
			}
		}()
	}

	return fix, nil
}

// Retry is the single allowed exit from Blocked, always user-initiated.
func (a *Acquirer) Retry(ctx context.Context) (report.GPSFix, error) {
	a.mu.Lock()
	if a.state != StateBlocked {
		state := a.state
		a.mu.Unlock()
		a.log.Debug().Str("state", state.String()).Msg("retry ignored outside blocked state")
		return report.GPSFix{}, ErrNotBlocked
	}
	a.state = StateIdle
	a.mu.Unlock()

	return a.Acquire(ctx)
}

// Close marks the owning view as gone; pending resumption-time effects are
// dropped.
func (a *Acquirer) Close() {
	a.mu.Lock()
	a.alive = false
	a.mu.Unlock()
}

func (a *Acquirer) block() {
	a.mu.Lock()
	a.state = StateBlocked
	a.mu.Unlock()
}
