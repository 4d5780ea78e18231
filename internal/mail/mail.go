// Package mail delivers transactional email such as OTP codes.
package mail

import (
	"context"
	"errors"
)

// ErrDelivery is wrapped by every Sender error caused by the provider or transport.
var ErrDelivery = errors.New("mail delivery failed")

// Sender sends a single email. Implementations must not retry internally.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
