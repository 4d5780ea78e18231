// Package lockout counts failed logins and blocks an account once the threshold is reached.
package lockout

import (
	"context"
	"fmt"
)

// DefaultThreshold is the number of consecutive failures that blocks an account.
const DefaultThreshold = 5

// Directory is the subset of the user directory the policy mutates.
type Directory interface {
	IncrementFailureCounter(ctx context.Context, id string) (int, error)
	UpdateFailureCounter(ctx context.Context, id string, value int) error
	BlockActive(ctx context.Context, id string) (bool, error)
}

// Policy applies the failed-login threshold.
type Policy struct {
	users     Directory
	threshold int
}

// NewPolicy returns a Policy. threshold <= 0 selects DefaultThreshold.
func NewPolicy(users Directory, threshold int) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Policy{users: users, threshold: threshold}
}

// OnFailedAttempt atomically increments the counter and blocks the user once the new value is
// at or past the threshold. Every failure past the threshold retries the block, so a failed
// status write cannot leave the account open. blocked is true only for the call that changed it.
func (p *Policy) OnFailedAttempt(ctx context.Context, userID string) (blocked bool, err error) {
	n, err := p.users.IncrementFailureCounter(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lockout: increment: %w", err)
	}
	if n < p.threshold {
		return false, nil
	}
	blocked, err = p.users.BlockActive(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("lockout: block: %w", err)
	}
	return blocked, nil
}

// OnSuccess resets the counter.
func (p *Policy) OnSuccess(ctx context.Context, userID string) error {
	if err := p.users.UpdateFailureCounter(ctx, userID, 0); err != nil {
		return fmt.Errorf("lockout: reset: %w", err)
	}
	return nil
}

// Threshold returns the configured threshold.
func (p *Policy) Threshold() int {
	return p.threshold
}
