// Package httphandler exposes the coordinator's snapshot and command surface
// as a JSON API for host collaborators (dashboards, home automation).
package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gmoura/lavamon/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SnapshotResponse is the JSON representation of one published snapshot.
type SnapshotResponse struct {
	CapturedAt string            `json:"captured_at"`
	AgeSeconds float64           `json:"age_seconds"`
	Laundry    LaundryResponse   `json:"laundry"`
	Card       *CardResponse     `json:"card,omitempty"`
	Machines   []MachineResponse `json:"machines"`
	Health     HealthResponse    `json:"health"`
}

// LaundryResponse is the JSON representation of the laundromat location.
type LaundryResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Closed bool   `json:"closed"`
}

// CardResponse is the JSON representation of the configured payment card.
type CardResponse struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Brand      string  `json:"brand"`
	LastDigits string  `json:"last_digits"`
	Balance    float64 `json:"balance"`
	Active     bool    `json:"active"`
}

// MachineResponse is the JSON representation of one machine.
type MachineResponse struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	DisplayName   string         `json:"display_name"`
	Type          string         `json:"type"`
	Status        string         `json:"status"`
	PricePerCycle float64        `json:"price_per_cycle"`
	CycleMinutes  int            `json:"cycle_minutes"`
	Cycle         *CycleResponse `json:"cycle,omitempty"`
}

// CycleResponse is the JSON representation of a running cycle.
type CycleResponse struct {
	StartedAt        string `json:"started_at"`
	DurationSeconds  int    `json:"duration_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
	EndsAt           string `json:"ends_at"`
	StartedBy        string `json:"started_by"`
	OrderID          string `json:"order_id,omitempty"`
}

// HealthResponse is the JSON representation of the poll health signal.
type HealthResponse struct {
	LastSuccess         string `json:"last_success,omitempty"`
	LastAttempt         string `json:"last_attempt,omitempty"`
	NextAttempt         string `json:"next_attempt,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
	AuthFailed          bool   `json:"auth_failed"`
	Degraded            bool   `json:"degraded"`
}

// StartResponse is the JSON representation of a successful start command.
type StartResponse struct {
	OrderID    string  `json:"order_id"`
	MachineID  string  `json:"machine_id"`
	CardID     string  `json:"card_id"`
	TotalPrice float64 `json:"total_price"`
}

func toSnapshotResponse(snap *model.Snapshot, health HealthResponse, now time.Time) SnapshotResponse {
	machines := make([]MachineResponse, 0, len(snap.Machines))
	for _, m := range snap.Machines {
		machines = append(machines, toMachineResponse(m))
	}

	resp := SnapshotResponse{
		CapturedAt: snap.CapturedAt.Format(time.RFC3339),
		AgeSeconds: snap.Age(now).Seconds(),
		Laundry: LaundryResponse{
			ID:     snap.Laundry.ID,
			Name:   snap.Laundry.Name,
			Code:   snap.Laundry.Code,
			Closed: snap.Laundry.Closed,
		},
		Machines: machines,
		Health:   health,
	}

	if snap.Card != nil {
		resp.Card = &CardResponse{
			ID:         snap.Card.ID,
			Label:      snap.Card.Label,
			Brand:      snap.Card.Brand,
			LastDigits: snap.Card.LastDigits,
			Balance:    snap.Card.Balance,
			Active:     snap.Card.Active,
		}
	}

	return resp
}

func toMachineResponse(m model.Machine) MachineResponse {
	resp := MachineResponse{
		ID:            m.ID,
		Code:          m.Code,
		DisplayName:   m.DisplayName,
		Type:          string(m.Type),
		Status:        string(m.Status),
		PricePerCycle: m.PricePerCycle,
		CycleMinutes:  m.CycleMinutes,
	}

	if m.Cycle != nil {
		resp.Cycle = &CycleResponse{
			StartedAt:        m.Cycle.StartedAt.Format(time.RFC3339),
			DurationSeconds:  int(m.Cycle.Duration.Seconds()),
			RemainingSeconds: int(m.Cycle.Remaining.Seconds()),
			EndsAt:           m.Cycle.EndsAt.Format(time.RFC3339),
			StartedBy:        string(m.Cycle.StartedBy),
			OrderID:          m.Cycle.OrderID,
		}
	}

	return resp
}

func toHealthResponse(h model.PollHealth, degraded bool) HealthResponse {
	resp := HealthResponse{
		ConsecutiveFailures: h.ConsecutiveFailures,
		LastError:           h.LastError,
		AuthFailed:          h.AuthFailed,
		Degraded:            degraded,
	}
	if !h.LastSuccess.IsZero() {
		resp.LastSuccess = h.LastSuccess.Format(time.RFC3339)
	}
	if !h.LastAttempt.IsZero() {
		resp.LastAttempt = h.LastAttempt.Format(time.RFC3339)
	}
	if !h.NextAttempt.IsZero() {
		resp.NextAttempt = h.NextAttempt.Format(time.RFC3339)
	}
	return resp
}
