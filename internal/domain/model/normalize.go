package model

import "time"

// Vendor status codes recognized by the normalizer. Everything else maps to
// MachineStatusUnknown so a new vendor code can never break a poll.
const (
	vendorStatusAvailable  = "AVAILABLE"
	vendorStatusInUse      = "IN_USE"
	vendorStatusOutOfOrder = "OUT_OF_ORDER"
	vendorStatusOffline    = "OFFLINE"
)

// NormalizeStatus maps a raw vendor status code onto the closed
// MachineStatus enum. OFFLINE machines cannot be used, so they are folded
// into out-of-order rather than reported as a distinct state.
func NormalizeStatus(raw string) MachineStatus {
	switch raw {
	case vendorStatusAvailable:
		return MachineStatusAvailable
	case vendorStatusInUse:
		return MachineStatusInUse
	case vendorStatusOutOfOrder, vendorStatusOffline:
		return MachineStatusOutOfOrder
	default:
		return MachineStatusUnknown
	}
}

// NormalizeType maps a raw vendor machine type onto MachineType.
func NormalizeType(raw string) MachineType {
	switch raw {
	case "WASHER":
		return MachineTypeWasher
	case "DRYER":
		return MachineTypeDryer
	default:
		return MachineTypeUnknown
	}
}

// orderRef is the per-machine slice of an active order used during cycle
// derivation.
type orderRef struct {
	orderID      string
	remaining    time.Duration
	startUsageAt time.Time
}

// BuildSnapshot normalizes one poll's raw payloads into an immutable
// Snapshot. It is a pure function of its inputs: all derived cycle fields
// (remaining time, end time) are computed against capturedAt, never against
// wall-clock time, so the same payloads always produce the same snapshot.
//
// Machines whose payload violates the "cycle present iff in use" invariant
// are coerced to MachineStatusUnknown with no cycle instead of failing the
// whole poll.
func BuildSnapshot(
	capturedAt time.Time,
	laundry LaundryPayload,
	orders []OrderPayload,
	cards []CardPayload,
	ownCardID string,
) *Snapshot {
	byMachine := indexOrders(laundry.ID, orders)

	machines := make([]Machine, 0, len(laundry.Machines))
	for _, mp := range laundry.Machines {
		machines = append(machines, normalizeMachine(capturedAt, mp, byMachine, ownCardID))
	}

	return &Snapshot{
		CapturedAt: capturedAt,
		Laundry: Laundry{
			ID:       laundry.ID,
			Name:     laundry.Name,
			Code:     laundry.Code,
			Timezone: laundry.Timezone,
			Closed:   laundry.IsClosed,
			Blocked:  laundry.IsBlocked,
		},
		Card:     selectCard(cards, ownCardID),
		Machines: machines,
	}
}

// indexOrders builds a machine-id (and machine-code, as fallback) lookup of
// the account's in-progress order machines for the monitored laundry.
func indexOrders(laundryID string, orders []OrderPayload) map[string]orderRef {
	refs := make(map[string]orderRef)
	for _, order := range orders {
		if order.LaundryID != laundryID {
			continue
		}
		for _, om := range order.Machines {
			if om.UsageStatus != "IN_PROGRESS" && om.UsageStatus != "PENDING" {
				continue
			}
			ref := orderRef{
				orderID:   order.ID,
				remaining: time.Duration(om.RemainingTime) * time.Second,
			}
			if ts, err := time.Parse(time.RFC3339, om.StartUsageAt); err == nil {
				ref.startUsageAt = ts
			}
			if om.MachineID != "" {
				refs[om.MachineID] = ref
			}
			if om.MachineCode != "" {
				refs[om.MachineCode] = ref
			}
		}
	}
	return refs
}

func normalizeMachine(capturedAt time.Time, mp MachinePayload, orders map[string]orderRef, ownCardID string) Machine {
	m := Machine{
		ID:            mp.ID,
		Code:          mp.Code,
		DisplayName:   mp.DisplayName,
		Type:          NormalizeType(mp.Type),
		Status:        NormalizeStatus(mp.Status),
		PricePerCycle: mp.Price,
		CycleMinutes:  mp.CycleTime,
		ServiceID:     mp.ServiceID,
	}

	if m.Status != MachineStatusInUse {
		// A cycle block on a machine the vendor reports as not running is
		// contradictory; trust neither side.
		if mp.Cycle != nil {
			m.Status = MachineStatusUnknown
		}
		return m
	}

	m.Cycle = deriveCycle(capturedAt, mp, orders, ownCardID)
	if m.Cycle == nil {
		// In use with no derivable cycle violates the model invariant.
		m.Status = MachineStatusUnknown
	}
	return m
}

// deriveCycle computes the cycle for an in-use machine. The account's own
// active order is authoritative for remaining time when one covers the
// machine; otherwise the vendor's cycle block is used. Returns nil when
// neither source yields a usable cycle.
func deriveCycle(capturedAt time.Time, mp MachinePayload, orders map[string]orderRef, ownCardID string) *Cycle {
	ref, mine := orders[mp.ID]
	if !mine {
		ref, mine = orders[mp.Code]
	}
	if mine {
		c := &Cycle{
			Remaining: ref.remaining,
			EndsAt:    capturedAt.Add(ref.remaining),
			StartedBy: OwnershipMine,
			OrderID:   ref.orderID,
		}
		if !ref.startUsageAt.IsZero() {
			c.StartedAt = ref.startUsageAt
			c.Duration = c.EndsAt.Sub(ref.startUsageAt)
		} else {
			c.StartedAt = capturedAt.Add(-time.Duration(mp.CycleTime)*time.Minute + ref.remaining)
			c.Duration = time.Duration(mp.CycleTime) * time.Minute
		}
		return c
	}

	if mp.Cycle == nil {
		return nil
	}

	startedAt, err := time.Parse(time.RFC3339, mp.Cycle.StartedAt)
	if err != nil {
		return nil
	}
	minutes := mp.Cycle.Minutes
	if minutes == 0 {
		minutes = mp.CycleTime
	}
	if minutes <= 0 {
		return nil
	}

	duration := time.Duration(minutes) * time.Minute
	remaining := duration - capturedAt.Sub(startedAt)
	if remaining < 0 {
		remaining = 0
	}

	return &Cycle{
		StartedAt: startedAt,
		Duration:  duration,
		Remaining: remaining,
		EndsAt:    startedAt.Add(duration),
		StartedBy: cycleOwnership(mp.Cycle.CardID, ownCardID),
	}
}

func cycleOwnership(cycleCardID, ownCardID string) Ownership {
	switch {
	case cycleCardID == "":
		return OwnershipUnknown
	case ownCardID != "" && cycleCardID == ownCardID:
		return OwnershipMine
	default:
		return OwnershipOther
	}
}

func selectCard(cards []CardPayload, cardID string) *Card {
	if cardID == "" {
		return nil
	}
	for _, cp := range cards {
		if cp.ID != cardID {
			continue
		}
		label := cp.Nickname
		if label == "" {
			label = cp.Brand + " " + cp.LastDigits
		}
		return &Card{
			ID:         cp.ID,
			Label:      label,
			Brand:      cp.Brand,
			LastDigits: cp.LastDigits,
			Balance:    cp.Balance,
			Active:     cp.IsActive,
		}
	}
	return nil
}
