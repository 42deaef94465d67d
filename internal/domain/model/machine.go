package model

import "time"

// Machine is the normalized view of a single washer or dryer inside a
// Snapshot. Machines have no identity across snapshots beyond ID, which
// subscribers use for stable-key diffing.
type Machine struct {
	ID          string
	Code        string
	DisplayName string
	Type        MachineType
	Status      MachineStatus
	// PricePerCycle is the vendor-listed price for one cycle, in the
	// laundromat's local currency.
	PricePerCycle float64
	// CycleMinutes is the nominal cycle duration advertised by the vendor.
	CycleMinutes int
	// ServiceID is the vendor service used when starting this machine.
	ServiceID string
	// Cycle is non-nil exactly when Status == MachineStatusInUse.
	Cycle *Cycle
}

// Cycle describes a running cycle. All derived fields are computed once from
// the snapshot's capture timestamp and stay frozen until the next poll.
type Cycle struct {
	StartedAt time.Time
	Duration  time.Duration
	Remaining time.Duration
	EndsAt    time.Time
	StartedBy Ownership
	// OrderID is set when the cycle was matched to one of the account's
	// active orders; empty otherwise.
	OrderID string
}

// InUse reports whether the machine is currently running a cycle.
func (m Machine) InUse() bool {
	return m.Status == MachineStatusInUse
}
