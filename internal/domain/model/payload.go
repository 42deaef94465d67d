package model

// Raw wire payloads returned by the Machine Guardian API. The driven vendor
// adapter unmarshals responses directly into these types; normalization into
// the domain model happens in BuildSnapshot. Field names follow the vendor's
// camelCase JSON.

// LaundryPayload is the GET /laundry/{id} response.
type LaundryPayload struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Code        string           `json:"code"`
	Type        string           `json:"type"`
	Timezone    string           `json:"timezone"`
	IsClosed    bool             `json:"isClosed"`
	IsBlocked   bool             `json:"isBlocked"`
	PaymentMode string           `json:"paymentMode"`
	Machines    []MachinePayload `json:"machines"`
}

// MachinePayload is one machine entry inside a laundry payload.
type MachinePayload struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	DisplayName string  `json:"displayName"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	StatusFleet string  `json:"statusFleet"`
	CycleTime   int     `json:"cycleTime"` // minutes
	Price       float64 `json:"price"`
	ServiceID   string  `json:"serviceId"`
	Model       string  `json:"model"`
	Serial      string  `json:"serial"`
	// Cycle carries the running cycle, when the vendor exposes it.
	Cycle *CyclePayload `json:"cycleInfo"`
}

// CyclePayload is the optional running-cycle block of a machine payload.
type CyclePayload struct {
	StartedAt string `json:"startedAt"` // RFC 3339
	Minutes   int    `json:"durationMinutes"`
	// CardID identifies the card that paid for the cycle. Usually empty:
	// the vendor only reveals it for the account's own orders.
	CardID string `json:"cardId"`
}

// OrderPayload is one entry of the GET /order/actives response, and also the
// POST /order/checkout response.
type OrderPayload struct {
	ID         string                `json:"id"`
	LaundryID  string                `json:"laundryId"`
	TotalPrice float64               `json:"totalPrice"`
	Status     string                `json:"status"`
	Machines   []OrderMachinePayload `json:"machines"`
}

// OrderMachinePayload is a machine inside an active order.
type OrderMachinePayload struct {
	MachineID     string `json:"machineId"`
	MachineCode   string `json:"machineCode"`
	MachineType   string `json:"machineType"`
	RemainingTime int    `json:"remainingTime"` // seconds
	UsageStatus   string `json:"usageStatus"`
	StartUsageAt  string `json:"startUsageAt"` // RFC 3339
}

// CardPayload is one entry of the GET /payment/card response.
type CardPayload struct {
	ID         string  `json:"id"`
	Brand      string  `json:"brand"`
	LastDigits string  `json:"lastDigits"`
	HolderName string  `json:"holderName"`
	Nickname   string  `json:"nickname"`
	Balance    float64 `json:"balance"`
	IsActive   bool    `json:"isActive"`
}
