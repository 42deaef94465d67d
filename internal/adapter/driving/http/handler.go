package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gmoura/lavamon/internal/application"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// credentialService is the service name under which vendor credentials are
// stored in the credential store.
const credentialService = "machineguardian"

// degradedAfter marks the poller degraded once this many polls failed in a
// row, mirroring the staleness threshold hosts use to mark entities
// unavailable.
const degradedAfter = 3

// Handler serves the JSON API over the poll coordinator.
type Handler struct {
	poll      *application.PollService
	credStore driven.CredentialStore
	provider  *application.VendorClientProvider
	newClient func(username, password string) driven.VendorClient
	logger    *slog.Logger
}

// NewHandler creates a Handler. newClient builds a vendor client from fresh
// credentials; it is injected by the composition root so this package stays
// free of adapter wiring.
func NewHandler(
	poll *application.PollService,
	credStore driven.CredentialStore,
	provider *application.VendorClientProvider,
	newClient func(username, password string) driven.VendorClient,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		poll:      poll,
		credStore: credStore,
		provider:  provider,
		newClient: newClient,
		logger:    logger,
	}
}

// RegisterAPIRoutes registers all API routes on the given mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /api/v1/machines", h.ListMachines)
	mux.HandleFunc("GET /api/v1/machines/{id}", h.GetMachine)
	mux.HandleFunc("POST /api/v1/machines/{id}/start", h.StartCycle)
	mux.HandleFunc("POST /api/v1/refresh", h.Refresh)
	mux.HandleFunc("PUT /api/v1/credentials", h.PutCredentials)
	mux.HandleFunc("GET /api/v1/health", h.GetHealth)
}

// GetSnapshot returns the latest published snapshot with the poll health
// signal attached. Returns 503 before the first successful poll.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.poll.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	health := toHealthResponse(h.poll.Health(), h.degraded())
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap, health, time.Now()))
}

// ListMachines returns the machines of the latest snapshot.
func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	snap, err := h.poll.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	machines := make([]MachineResponse, 0, len(snap.Machines))
	for _, m := range snap.Machines {
		machines = append(machines, toMachineResponse(m))
	}
	writeJSON(w, http.StatusOK, machines)
}

// GetMachine returns a single machine from the latest snapshot.
func (h *Handler) GetMachine(w http.ResponseWriter, r *http.Request) {
	snap, err := h.poll.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	machine := snap.Machine(r.PathValue("id"))
	if machine == nil {
		writeError(w, http.StatusNotFound, "unknown machine")
		return
	}
	writeJSON(w, http.StatusOK, toMachineResponse(*machine))
}

// startRequest is the request body of the start-cycle endpoint.
type startRequest struct {
	CardID string `json:"card_id"`
}

// StartCycle starts a cycle on the given machine. The card defaults to the
// configured one when the body omits it.
func (h *Handler) StartCycle(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	receipt, err := h.poll.RequestStartCycle(r.Context(), r.PathValue("id"), req.CardID)
	if err != nil {
		status, message := classifyCommandError(err)
		h.logger.Warn("start cycle rejected",
			"machine_id", r.PathValue("id"),
			"status", status,
			"error", err,
		)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		OrderID:    receipt.OrderID,
		MachineID:  receipt.MachineID,
		CardID:     receipt.CardID,
		TotalPrice: receipt.TotalPrice,
	})
}

// Refresh triggers an out-of-band poll and waits for it to complete.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.poll.RefreshNow(r.Context()); err != nil {
		status, message := classifyCommandError(err)
		writeError(w, status, message)
		return
	}
	h.GetSnapshot(w, r)
}

// credentialsRequest is the request body of the credentials endpoint.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PutCredentials stores new vendor credentials, hot-swaps the client, and
// wakes the poller so the new account takes effect immediately.
func (h *Handler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := h.credStore.Set(r.Context(), credentialService, "username", req.Username); err != nil {
		h.credentialStoreError(w, err)
		return
	}
	if err := h.credStore.Set(r.Context(), credentialService, "password", req.Password); err != nil {
		h.credentialStoreError(w, err)
		return
	}

	h.provider.Replace(h.newClient(req.Username, req.Password), req.Username)
	h.poll.Kick()

	h.logger.Info("vendor credentials replaced", "username", req.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) credentialStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error("store credential failed", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to store credentials")
}

// GetHealth reports poller liveness for container health checks: 200 while
// polling is keeping up, 503 once it is degraded (terminal auth failure or
// repeated consecutive poll failures).
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.poll.Health()
	degraded := h.degraded()

	status := http.StatusOK
	if degraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthResponse(health, degraded))
}

func (h *Handler) degraded() bool {
	health := h.poll.Health()
	return health.AuthFailed || health.ConsecutiveFailures >= degradedAfter
}

// classifyCommandError maps the error taxonomy onto HTTP status codes.
func classifyCommandError(err error) (int, string) {
	var throttled *driven.ThrottledError
	switch {
	case errors.Is(err, driven.ErrMachineNotFound):
		return http.StatusNotFound, "unknown machine"
	case errors.Is(err, driven.ErrMachineUnavailable):
		return http.StatusConflict, "machine not available to start"
	case errors.Is(err, driven.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient card balance"
	case errors.Is(err, driven.ErrInvalidCredentials):
		return http.StatusUnauthorized, "vendor rejected credentials"
	case errors.Is(err, application.ErrNoCredentials):
		return http.StatusConflict, "no vendor credentials configured"
	case errors.As(err, &throttled):
		return http.StatusServiceUnavailable, throttled.Error()
	case driven.IsTransient(err):
		return http.StatusBadGateway, "vendor temporarily unreachable"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
