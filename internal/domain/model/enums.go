package model

// MachineStatus is the normalized state of a machine. Vendor status codes
// outside the recognized set always map to MachineStatusUnknown.
type MachineStatus string

const (
	MachineStatusAvailable  MachineStatus = "available"
	MachineStatusInUse      MachineStatus = "in_use"
	MachineStatusOutOfOrder MachineStatus = "out_of_order"
	MachineStatusUnknown    MachineStatus = "unknown"
)

// MachineType distinguishes washers from dryers.
type MachineType string

const (
	MachineTypeWasher  MachineType = "washer"
	MachineTypeDryer   MachineType = "dryer"
	MachineTypeUnknown MachineType = "unknown"
)

// Ownership records who started a running cycle, as far as the vendor API
// lets us tell. The vendor does not always expose the originating card, so
// this is a best-effort tri-state rather than a bool.
type Ownership string

const (
	OwnershipMine    Ownership = "mine"
	OwnershipOther   Ownership = "other"
	OwnershipUnknown Ownership = "unknown"
)
