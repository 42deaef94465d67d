package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmoura/lavamon/internal/application"
	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// --- Mock vendor client ---

type mockVendorClient struct {
	mu           sync.Mutex
	fetchLaundry func(ctx context.Context) (model.LaundryPayload, error)
	startCycle   func(ctx context.Context, machineID, serviceID, cardID string) (model.OrderPayload, error)
	laundryCalls int
}

func (m *mockVendorClient) FetchLaundry(ctx context.Context) (model.LaundryPayload, error) {
	m.mu.Lock()
	m.laundryCalls++
	m.mu.Unlock()
	if m.fetchLaundry != nil {
		return m.fetchLaundry(ctx)
	}
	return model.LaundryPayload{ID: "laundry-1"}, nil
}

func (m *mockVendorClient) FetchActiveOrders(_ context.Context) ([]model.OrderPayload, error) {
	return nil, nil
}

func (m *mockVendorClient) FetchCards(_ context.Context) ([]model.CardPayload, error) {
	return nil, nil
}

func (m *mockVendorClient) StartCycle(ctx context.Context, machineID, serviceID, cardID string) (model.OrderPayload, error) {
	if m.startCycle != nil {
		return m.startCycle(ctx, machineID, serviceID, cardID)
	}
	return model.OrderPayload{ID: "order-1"}, nil
}

func (m *mockVendorClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laundryCalls
}

func newService(client driven.VendorClient, cardID string) *application.PollService {
	provider := application.NewVendorClientProvider(client, "tester")
	return application.NewPollService(provider, cardID, time.Hour)
}

// --- Tests ---

func TestRefreshNow_PublishesSnapshot(t *testing.T) {
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			return model.LaundryPayload{
				ID: "laundry-1",
				Machines: []model.MachinePayload{
					{ID: "m1", Status: "AVAILABLE"},
				},
			}, nil
		},
	}
	svc := newService(client, "")

	_, err := svc.Snapshot()
	assert.ErrorIs(t, err, driven.ErrNoSnapshot)

	require.NoError(t, svc.RefreshNow(context.Background()))

	snap, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Machines, 1)

	health := svc.Health()
	assert.Zero(t, health.ConsecutiveFailures)
	assert.False(t, health.LastSuccess.IsZero())
}

func TestRefreshNow_FailureKeepsPreviousSnapshot(t *testing.T) {
	var fail atomic.Bool
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			if fail.Load() {
				return model.LaundryPayload{}, errors.New("connection reset")
			}
			return model.LaundryPayload{ID: "laundry-1"}, nil
		},
	}
	svc := newService(client, "")

	require.NoError(t, svc.RefreshNow(context.Background()))
	first, err := svc.Snapshot()
	require.NoError(t, err)

	fail.Store(true)
	err = svc.RefreshNow(context.Background())
	require.Error(t, err)

	second, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Same(t, first, second)

	health := svc.Health()
	assert.Equal(t, 1, health.ConsecutiveFailures)
	assert.Contains(t, health.LastError, "connection reset")
	assert.False(t, health.AuthFailed)
}

func TestRefreshNow_AuthFailureSetsHealthFlag(t *testing.T) {
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			return model.LaundryPayload{}, driven.ErrInvalidCredentials
		},
	}
	svc := newService(client, "")

	err := svc.RefreshNow(context.Background())
	assert.ErrorIs(t, err, driven.ErrInvalidCredentials)
	assert.True(t, svc.Health().AuthFailed)
}

func TestRefreshNow_NoClient(t *testing.T) {
	svc := newService(nil, "")

	err := svc.RefreshNow(context.Background())
	assert.ErrorIs(t, err, application.ErrNoCredentials)
}

func TestRefreshNow_ConcurrentCallersCoalesce(t *testing.T) {
	release := make(chan struct{})
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			<-release
			return model.LaundryPayload{ID: "laundry-1"}, nil
		},
	}
	svc := newService(client, "")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.RefreshNow(context.Background())
		}(i)
	}

	// Let every caller reach the in-flight fetch, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, client.calls())
}

func TestRefreshNow_CallerContextDetachesWithoutAbortingFetch(t *testing.T) {
	release := make(chan struct{})
	fetched := make(chan struct{})
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			close(fetched)
			<-release
			return model.LaundryPayload{ID: "laundry-1"}, nil
		},
	}
	svc := newService(client, "")

	// Run the loop so coalesced fetches execute under its context rather
	// than any individual caller's.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go svc.Start(loopCtx)
	<-fetched

	callerCtx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.RefreshNow(callerCtx) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// The shared fetch completes once released and still publishes.
	close(release)
	require.Eventually(t, func() bool {
		_, err := svc.Snapshot()
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribe_NotifiedOnPublish(t *testing.T) {
	client := &mockVendorClient{}
	svc := newService(client, "")

	got := make(chan *model.Snapshot, 1)
	unsubscribe := svc.Subscribe(func(snap *model.Snapshot) {
		got <- snap
	})
	defer unsubscribe()

	require.NoError(t, svc.RefreshNow(context.Background()))

	select {
	case snap := <-got:
		assert.Equal(t, "laundry-1", snap.Laundry.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestSubscribe_UnsubscribeStopsNotifications(t *testing.T) {
	client := &mockVendorClient{}
	svc := newService(client, "")

	var notified atomic.Int32
	unsubscribe := svc.Subscribe(func(*model.Snapshot) {
		notified.Add(1)
	})
	unsubscribe()

	require.NoError(t, svc.RefreshNow(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, notified.Load())
}

func TestRequestStartCycle(t *testing.T) {
	t.Run("uses configured card and snapshot service id", func(t *testing.T) {
		var gotService, gotCard string
		client := &mockVendorClient{
			fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
				return model.LaundryPayload{
					ID: "laundry-1",
					Machines: []model.MachinePayload{
						{ID: "m1", Status: "AVAILABLE", ServiceID: "svc-9"},
					},
				}, nil
			},
			startCycle: func(_ context.Context, _, serviceID, cardID string) (model.OrderPayload, error) {
				gotService = serviceID
				gotCard = cardID
				return model.OrderPayload{ID: "order-3", TotalPrice: 14}, nil
			},
		}
		svc := newService(client, "card-1")
		require.NoError(t, svc.RefreshNow(context.Background()))

		receipt, err := svc.RequestStartCycle(context.Background(), "m1", "")
		require.NoError(t, err)
		assert.Equal(t, "svc-9", gotService)
		assert.Equal(t, "card-1", gotCard)
		assert.Equal(t, "order-3", receipt.OrderID)
		assert.Equal(t, float64(14), receipt.TotalPrice)
	})

	t.Run("explicit card overrides configured", func(t *testing.T) {
		var gotCard string
		client := &mockVendorClient{
			startCycle: func(_ context.Context, _, _, cardID string) (model.OrderPayload, error) {
				gotCard = cardID
				return model.OrderPayload{ID: "order-4"}, nil
			},
		}
		svc := newService(client, "card-1")

		_, err := svc.RequestStartCycle(context.Background(), "m1", "card-2")
		require.NoError(t, err)
		assert.Equal(t, "card-2", gotCard)
	})

	t.Run("no card anywhere", func(t *testing.T) {
		svc := newService(&mockVendorClient{}, "")
		_, err := svc.RequestStartCycle(context.Background(), "m1", "")
		assert.Error(t, err)
	})

	t.Run("vendor rejection passes through", func(t *testing.T) {
		client := &mockVendorClient{
			startCycle: func(_ context.Context, _, _, _ string) (model.OrderPayload, error) {
				return model.OrderPayload{}, driven.ErrMachineUnavailable
			},
		}
		svc := newService(client, "card-1")

		_, err := svc.RequestStartCycle(context.Background(), "m1", "")
		assert.ErrorIs(t, err, driven.ErrMachineUnavailable)
	})

	t.Run("success triggers follow-up refresh", func(t *testing.T) {
		client := &mockVendorClient{}
		svc := newService(client, "card-1")

		before := client.calls()
		_, err := svc.RequestStartCycle(context.Background(), "m1", "")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return client.calls() > before
		}, time.Second, 10*time.Millisecond)
	})
}

func TestStart_KickWakesParkedLoop(t *testing.T) {
	var allow atomic.Bool
	client := &mockVendorClient{
		fetchLaundry: func(_ context.Context) (model.LaundryPayload, error) {
			if !allow.Load() {
				return model.LaundryPayload{}, driven.ErrInvalidCredentials
			}
			return model.LaundryPayload{ID: "laundry-1"}, nil
		},
	}
	svc := newService(client, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	// First poll fails terminally and the loop parks without retrying.
	require.Eventually(t, func() bool {
		return svc.Health().AuthFailed
	}, time.Second, 10*time.Millisecond)
	calls := client.calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.calls())

	// A kick after fixing the credentials resumes polling.
	allow.Store(true)
	svc.Kick()

	require.Eventually(t, func() bool {
		_, err := svc.Snapshot()
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
