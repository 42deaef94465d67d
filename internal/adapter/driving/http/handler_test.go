package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/gmoura/lavamon/internal/adapter/driving/http"
	"github.com/gmoura/lavamon/internal/application"
	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// --- Mocks ---

type mockVendorClient struct {
	laundry    model.LaundryPayload
	laundryErr error
	startErr   error
}

func (m *mockVendorClient) FetchLaundry(_ context.Context) (model.LaundryPayload, error) {
	return m.laundry, m.laundryErr
}

func (m *mockVendorClient) FetchActiveOrders(_ context.Context) ([]model.OrderPayload, error) {
	return nil, nil
}

func (m *mockVendorClient) FetchCards(_ context.Context) ([]model.CardPayload, error) {
	return []model.CardPayload{{ID: "card-1", Brand: "VISA", LastDigits: "1111", Balance: 30, IsActive: true}}, nil
}

func (m *mockVendorClient) StartCycle(_ context.Context, machineID, _, cardID string) (model.OrderPayload, error) {
	if m.startErr != nil {
		return model.OrderPayload{}, m.startErr
	}
	return model.OrderPayload{ID: "order-1", TotalPrice: 12.5}, nil
}

type mockCredStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (m *mockCredStore) Set(_ context.Context, service, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[service+"/"+key] = value
	return nil
}

func (m *mockCredStore) Get(_ context.Context, service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[service+"/"+key], nil
}

func (m *mockCredStore) List(_ context.Context) ([]model.Credential, error) {
	return nil, nil
}

func (m *mockCredStore) Delete(_ context.Context, _, _ string) error {
	return nil
}

// --- Fixture ---

type fixture struct {
	mux      *http.ServeMux
	poll     *application.PollService
	provider *application.VendorClientProvider
	creds    *mockCredStore
	client   *mockVendorClient
}

func setup(t *testing.T) *fixture {
	t.Helper()

	client := &mockVendorClient{
		laundry: model.LaundryPayload{
			ID:   "laundry-1",
			Name: "Downtown Wash",
			Machines: []model.MachinePayload{
				{ID: "m1", Code: "W01", Type: "WASHER", Status: "AVAILABLE", CycleTime: 30, Price: 12.5, ServiceID: "svc-1"},
				{
					ID: "m2", Code: "D01", Type: "DRYER", Status: "IN_USE", CycleTime: 40,
					Cycle: &model.CyclePayload{StartedAt: time.Now().Add(-10 * time.Minute).Format(time.RFC3339), Minutes: 40},
				},
			},
		},
	}

	provider := application.NewVendorClientProvider(client, "alice@example.com")
	poll := application.NewPollService(provider, "card-1", time.Hour)
	creds := &mockCredStore{}

	handler := httphandler.NewHandler(poll, creds, provider,
		func(username, password string) driven.VendorClient { return client },
		slog.New(slog.DiscardHandler),
	)

	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, handler)

	return &fixture{mux: mux, poll: poll, provider: provider, creds: creds, client: client}
}

func (f *fixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// --- Tests ---

func TestGetSnapshot_BeforeFirstPoll(t *testing.T) {
	f := setup(t)

	rec := f.request(t, http.MethodGet, "/api/v1/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSnapshot(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.poll.RefreshNow(context.Background()))

	rec := f.request(t, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[httphandler.SnapshotResponse](t, rec)
	assert.Equal(t, "Downtown Wash", resp.Laundry.Name)
	require.Len(t, resp.Machines, 2)
	assert.Equal(t, "available", resp.Machines[0].Status)
	assert.Equal(t, "in_use", resp.Machines[1].Status)
	require.NotNil(t, resp.Machines[1].Cycle)
	assert.InDelta(t, 30*60, resp.Machines[1].Cycle.RemainingSeconds, 5)
	require.NotNil(t, resp.Card)
	assert.Equal(t, float64(30), resp.Card.Balance)
	assert.False(t, resp.Health.Degraded)
}

func TestListMachines(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.poll.RefreshNow(context.Background()))

	rec := f.request(t, http.MethodGet, "/api/v1/machines", "")
	require.Equal(t, http.StatusOK, rec.Code)

	machines := decodeBody[[]httphandler.MachineResponse](t, rec)
	require.Len(t, machines, 2)
	assert.Equal(t, "washer", machines[0].Type)
	assert.Equal(t, "dryer", machines[1].Type)
}

func TestGetMachine(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.poll.RefreshNow(context.Background()))

	rec := f.request(t, http.MethodGet, "/api/v1/machines/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", decodeBody[httphandler.MachineResponse](t, rec).ID)

	rec = f.request(t, http.MethodGet, "/api/v1/machines/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCycle(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.poll.RefreshNow(context.Background()))

	rec := f.request(t, http.MethodPost, "/api/v1/machines/m1/start", `{"card_id":"card-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[httphandler.StartResponse](t, rec)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "m1", resp.MachineID)
	assert.Equal(t, "card-2", resp.CardID)
	assert.Equal(t, 12.5, resp.TotalPrice)
}

func TestStartCycle_EmptyBodyUsesConfiguredCard(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.poll.RefreshNow(context.Background()))

	rec := f.request(t, http.MethodPost, "/api/v1/machines/m1/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "card-1", decodeBody[httphandler.StartResponse](t, rec).CardID)
}

func TestStartCycle_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown machine", driven.ErrMachineNotFound, http.StatusNotFound},
		{"machine busy", driven.ErrMachineUnavailable, http.StatusConflict},
		{"empty card", driven.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"bad credentials", driven.ErrInvalidCredentials, http.StatusUnauthorized},
		{"throttled", &driven.ThrottledError{RetryAfter: time.Minute}, http.StatusServiceUnavailable},
		{"transport", &driven.TransportError{Op: "POST /order", Status: 502}, http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.client.startErr = tt.err

			rec := f.request(t, http.MethodPost, "/api/v1/machines/m1/start", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRefresh(t *testing.T) {
	f := setup(t)

	rec := f.request(t, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Downtown Wash", decodeBody[httphandler.SnapshotResponse](t, rec).Laundry.Name)
}

func TestRefresh_VendorDown(t *testing.T) {
	f := setup(t)
	f.client.laundryErr = &driven.TransportError{Op: "GET /laundry/laundry-1", Status: 502}

	rec := f.request(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPutCredentials(t *testing.T) {
	f := setup(t)
	f.provider.Replace(nil, "")

	rec := f.request(t, http.MethodPut, "/api/v1/credentials", `{"username":"bob@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "bob@example.com", f.creds.values["machineguardian/username"])
	assert.Equal(t, "pw", f.creds.values["machineguardian/password"])
	assert.True(t, f.provider.HasClient())
	assert.Equal(t, "bob@example.com", f.provider.Account())
}

func TestPutCredentials_Validation(t *testing.T) {
	f := setup(t)

	rec := f.request(t, http.MethodPut, "/api/v1/credentials", `{"username":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPut, "/api/v1/credentials", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutCredentials_NoEncryptionKey(t *testing.T) {
	f := setup(t)
	f.creds.err = driven.ErrEncryptionKeyNotSet

	rec := f.request(t, http.MethodPut, "/api/v1/credentials", `{"username":"bob","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetHealth(t *testing.T) {
	f := setup(t)

	t.Run("healthy after successful poll", func(t *testing.T) {
		require.NoError(t, f.poll.RefreshNow(context.Background()))
		rec := f.request(t, http.MethodGet, "/api/v1/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decodeBody[httphandler.HealthResponse](t, rec).Degraded)
	})

	t.Run("degraded after repeated failures", func(t *testing.T) {
		f.client.laundryErr = errors.New("connection reset")
		for range 3 {
			_ = f.poll.RefreshNow(context.Background())
		}

		rec := f.request(t, http.MethodGet, "/api/v1/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := decodeBody[httphandler.HealthResponse](t, rec)
		assert.True(t, resp.Degraded)
		assert.Equal(t, 3, resp.ConsecutiveFailures)
	})

	t.Run("degraded immediately on auth failure", func(t *testing.T) {
		f := setup(t)
		f.client.laundryErr = driven.ErrInvalidCredentials
		_ = f.poll.RefreshNow(context.Background())

		rec := f.request(t, http.MethodGet, "/api/v1/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.True(t, decodeBody[httphandler.HealthResponse](t, rec).AuthFailed)
	})
}
