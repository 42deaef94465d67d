package model

import "time"

// Laundry identifies the monitored laundromat location.
type Laundry struct {
	ID       string
	Name     string
	Code     string
	Timezone string
	Closed   bool
	Blocked  bool
}

// Snapshot is the atomic bundle of laundromat state produced by one
// successful poll. Snapshots are immutable: a new poll publishes a new
// Snapshot value and the previous one is dropped, so readers never observe
// a half-updated mix of machine and card data.
type Snapshot struct {
	CapturedAt time.Time
	Laundry    Laundry
	// Card is the configured payment card, or nil when no card id is
	// configured or the card was not found in the account.
	Card     *Card
	Machines []Machine
}

// Machine returns the machine with the given id, or nil.
func (s *Snapshot) Machine(id string) *Machine {
	for i := range s.Machines {
		if s.Machines[i].ID == id {
			return &s.Machines[i]
		}
	}
	return nil
}

// Age returns how stale the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// PollHealth is the staleness/backoff signal published alongside the
// snapshot. Hosts use it to mark entities unavailable after a threshold of
// consecutive failures without ever losing the last good snapshot.
type PollHealth struct {
	LastSuccess         time.Time
	LastAttempt         time.Time
	ConsecutiveFailures int
	LastError           string
	// AuthFailed is set when the vendor rejected the configured
	// credentials. This is terminal: polling stops until the operator
	// replaces the credentials and triggers a refresh.
	AuthFailed bool
	// NextAttempt is when the coordinator will poll again. Zero while a
	// poll is in flight or when polling is parked on an auth failure.
	NextAttempt time.Time
}

// StartReceipt is returned by a successful start-cycle command.
type StartReceipt struct {
	OrderID    string
	MachineID  string
	CardID     string
	TotalPrice float64
}
