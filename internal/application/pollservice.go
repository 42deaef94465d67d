// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
	"github.com/gmoura/lavamon/internal/metrics"
)

// refreshKey is the singleflight key shared by every refresh path, so the
// periodic loop and any number of concurrent RefreshNow callers coalesce
// into a single vendor fetch.
const refreshKey = "refresh"

// backoffCap bounds the failure backoff at this multiple of the base
// polling interval.
const backoffCap = 16

// ErrNoCredentials is returned when polling or commands run before any
// vendor credentials are configured.
var ErrNoCredentials = errors.New("no vendor credentials configured")

// PollService is the poll coordinator: it drives periodic refresh of the
// laundromat state, publishes immutable snapshots, fans change notifications
// out to subscribers, and serializes the start-cycle command against the
// same vendor session.
//
// At most one vendor fetch is in flight at any time. A failed poll never
// clears the last published snapshot; readers keep serving stale-but-valid
// data, with staleness observable through Health.
type PollService struct {
	provider *VendorClientProvider
	cardID   string
	interval time.Duration

	group    singleflight.Group
	snapshot atomic.Pointer[model.Snapshot]

	mu      sync.Mutex
	health  model.PollHealth
	subs    map[int]func(*model.Snapshot)
	nextSub int
	runCtx  context.Context

	bo *backoff.ExponentialBackOff

	// kick wakes the loop out of a backoff sleep or a terminal-auth park,
	// e.g. after the operator replaced credentials.
	kick chan struct{}
}

// NewPollService creates a poll coordinator. cardID may be empty when no
// payment card is configured; interval is the base polling cadence.
func NewPollService(provider *VendorClientProvider, cardID string, interval time.Duration) *PollService {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.RandomizationFactor = 0.1
	bo.Multiplier = 2
	bo.MaxInterval = backoffCap * interval
	bo.MaxElapsedTime = 0

	return &PollService{
		provider: provider,
		cardID:   cardID,
		interval: interval,
		subs:     make(map[int]func(*model.Snapshot)),
		bo:       bo,
		kick:     make(chan struct{}, 1),
	}
}

// Interval returns the base polling interval.
func (s *PollService) Interval() time.Duration {
	return s.interval
}

// Start runs the polling loop: an immediate first poll, then one poll a
// fixed interval after the previous one completed. Consecutive failures
// stretch the delay with capped exponential backoff; a rejected-credentials
// failure parks the loop entirely until Kick or RefreshNow. Start blocks
// until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			slog.Info("poll coordinator stopped")
			return
		}

		err := s.RefreshNow(ctx)

		var delay time.Duration
		switch {
		case ctx.Err() != nil:
			slog.Info("poll coordinator stopped")
			return
		case errors.Is(err, driven.ErrInvalidCredentials), errors.Is(err, ErrNoCredentials):
			// Terminal until the operator intervenes; no retry loop.
			s.setNextAttempt(time.Time{})
			slog.Warn("polling parked until credentials are replaced", "error", err)
			select {
			case <-ctx.Done():
				slog.Info("poll coordinator stopped")
				return
			case <-s.kick:
			}
			continue
		case err != nil:
			delay = s.bo.NextBackOff()
			var throttled *driven.ThrottledError
			if errors.As(err, &throttled) && throttled.RetryAfter > delay {
				delay = throttled.RetryAfter
			}
		default:
			s.bo.Reset()
			delay = s.interval
		}

		s.setNextAttempt(time.Now().Add(delay))

		select {
		case <-ctx.Done():
			slog.Info("poll coordinator stopped")
			return
		case <-s.kick:
		case <-time.After(delay):
		}
	}
}

// Kick wakes the polling loop for an immediate attempt without waiting for
// the current backoff delay to elapse.
func (s *PollService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RefreshNow triggers an out-of-band refresh. Concurrent callers while a
// fetch is in flight coalesce into that fetch and all observe its result;
// at most one vendor fetch runs at a time. A caller whose context expires
// detaches without aborting the shared fetch.
func (s *PollService) RefreshNow(ctx context.Context) error {
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		return nil, s.poll(s.fetchContext(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchContext picks the context a coalesced fetch runs under: the loop's
// context when Start is running, so one caller's cancellation cannot abort
// a fetch other callers are waiting on.
func (s *PollService) fetchContext(fallback context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return fallback
}

// poll performs one full fetch-normalize-publish cycle.
func (s *PollService) poll(ctx context.Context) error {
	capturedAt := time.Now()

	s.mu.Lock()
	s.health.LastAttempt = capturedAt
	s.health.NextAttempt = time.Time{}
	s.mu.Unlock()

	client := s.provider.Get()
	if client == nil {
		return s.recordFailure(ErrNoCredentials)
	}

	laundry, err := client.FetchLaundry(ctx)
	if err != nil {
		return s.recordFailure(fmt.Errorf("poll: %w", err))
	}
	orders, err := client.FetchActiveOrders(ctx)
	if err != nil {
		return s.recordFailure(fmt.Errorf("poll: %w", err))
	}
	cards, err := client.FetchCards(ctx)
	if err != nil {
		return s.recordFailure(fmt.Errorf("poll: %w", err))
	}

	if ctx.Err() != nil {
		// Coordinator stopped mid-fetch; discard the result.
		return ctx.Err()
	}

	snap := model.BuildSnapshot(capturedAt, laundry, orders, cards, s.cardID)
	s.snapshot.Store(snap)

	s.mu.Lock()
	s.health.LastSuccess = capturedAt
	s.health.ConsecutiveFailures = 0
	s.health.LastError = ""
	s.health.AuthFailed = false
	s.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("success").Inc()
	metrics.PollDuration.Observe(time.Since(capturedAt).Seconds())
	metrics.ConsecutiveFailures.Set(0)
	metrics.LastSuccessTimestamp.Set(float64(capturedAt.Unix()))

	s.notify(snap)

	slog.Info("poll complete",
		"machines", len(snap.Machines),
		"active_orders", len(orders),
		"duration", time.Since(capturedAt).Round(time.Millisecond),
	)

	return nil
}

// recordFailure updates health for a failed poll. The previous snapshot is
// deliberately left in place.
func (s *PollService) recordFailure(err error) error {
	authFailed := errors.Is(err, driven.ErrInvalidCredentials)

	s.mu.Lock()
	s.health.ConsecutiveFailures++
	s.health.LastError = err.Error()
	s.health.AuthFailed = authFailed
	failures := s.health.ConsecutiveFailures
	s.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("failure").Inc()
	metrics.ConsecutiveFailures.Set(float64(failures))

	slog.Error("poll failed",
		"error", err,
		"consecutive_failures", failures,
		"auth_failed", authFailed,
	)

	return err
}

func (s *PollService) setNextAttempt(at time.Time) {
	s.mu.Lock()
	s.health.NextAttempt = at
	s.mu.Unlock()
}

// Snapshot returns the latest published snapshot. Before the first
// successful poll it returns driven.ErrNoSnapshot.
func (s *PollService) Snapshot() (*model.Snapshot, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return nil, driven.ErrNoSnapshot
}

// Health returns the current staleness/backoff signal.
func (s *PollService) Health() model.PollHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Subscribe registers a listener invoked once per published snapshot.
// Listeners run on their own goroutine and can never block the coordinator.
// The returned function unsubscribes.
func (s *PollService) Subscribe(fn func(*model.Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *PollService) notify(snap *model.Snapshot) {
	s.mu.Lock()
	listeners := make([]func(*model.Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		go fn(snap)
	}
}

// RequestStartCycle starts a cycle on the given machine, defaulting to the
// configured card when cardID is empty. The machine's vendor service id is
// resolved from the current snapshot when one is available. On success an
// out-of-band refresh is scheduled so the published state converges quickly;
// on failure the classified error is returned and the snapshot is untouched.
func (s *PollService) RequestStartCycle(ctx context.Context, machineID, cardID string) (model.StartReceipt, error) {
	if cardID == "" {
		cardID = s.cardID
	}
	if cardID == "" {
		return model.StartReceipt{}, errors.New("no card id given and none configured")
	}

	client := s.provider.Get()
	if client == nil {
		return model.StartReceipt{}, ErrNoCredentials
	}

	var serviceID string
	if snap := s.snapshot.Load(); snap != nil {
		if m := snap.Machine(machineID); m != nil {
			serviceID = m.ServiceID
		}
	}

	order, err := client.StartCycle(ctx, machineID, serviceID, cardID)
	if err != nil {
		metrics.StartCyclesTotal.WithLabelValues("failure").Inc()
		return model.StartReceipt{}, err
	}
	metrics.StartCyclesTotal.WithLabelValues("success").Inc()

	go func() {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := s.RefreshNow(refreshCtx); err != nil {
			slog.Warn("post-start refresh failed", "machine_id", machineID, "error", err)
		}
	}()

	return model.StartReceipt{
		OrderID:    order.ID,
		MachineID:  machineID,
		CardID:     cardID,
		TotalPrice: order.TotalPrice,
	}, nil
}
