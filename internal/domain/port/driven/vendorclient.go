// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"

	"github.com/gmoura/lavamon/internal/domain/model"
)

// VendorClient defines the driven port for the Machine Guardian API.
// Implementations own authentication: every call obtains a valid token,
// and an authentication-rejected response triggers exactly one
// re-authentication and retry before surfacing ErrInvalidCredentials.
type VendorClient interface {
	// FetchLaundry returns the monitored laundromat with its machine fleet.
	FetchLaundry(ctx context.Context) (model.LaundryPayload, error)

	// FetchActiveOrders returns the account's in-flight orders, used to
	// derive remaining time and cycle ownership.
	FetchActiveOrders(ctx context.Context) ([]model.OrderPayload, error)

	// FetchCards returns the account's payment cards.
	FetchCards(ctx context.Context) ([]model.CardPayload, error)

	// StartCycle creates an order for the machine/service pair and checks
	// it out with the given card. Domain rejections are reported as
	// ErrMachineNotFound, ErrMachineUnavailable, or ErrInsufficientBalance,
	// distinct from transport failures.
	StartCycle(ctx context.Context, machineID, serviceID, cardID string) (model.OrderPayload, error)
}
