package model

// Card is the immutable snapshot of the configured payment card, refreshed
// on every poll cycle.
type Card struct {
	ID         string
	Label      string
	Brand      string
	LastDigits string
	Balance    float64
	Active     bool
}
