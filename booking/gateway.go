package booking

//go:generate mockgen -source=gateway.go -destination=gateway_mock.go -package=booking

import (
	"context"

	"github.com/warp/booking-engine/generic"
)

// Gateway starts a hosted payment. Confirmation arrives later as a separate
// call to Service.ConfirmGatewayPayment carrying the same CorrelationID.
type Gateway interface {
	Initiate(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// CheckoutRequest is what the gateway needs to render a payment page.
type CheckoutRequest struct {
	CorrelationID string
	AppointmentID string
	BookingNumber int64
	Amount        generic.Money
	ItemName      string
	CustomerName  string
	CustomerEmail string
}

// Checkout is where to send the user, with the signed form to post there.
type Checkout struct {
	RedirectURL string
	Fields      map[string]string
	Amount      generic.Money
}

// Locker serializes units of work that share a key. Release must be called
// exactly once after a successful Acquire.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Publisher receives lifecycle events after a unit of work commits.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
