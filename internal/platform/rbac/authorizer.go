// Package rbac decides whether a caller may act on a resource, using an embedded Rego policy.
package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

var (
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the policy denies the capability.
	ErrForbidden = errors.New("forbidden")
)

// Capability names an access rule for an operation.
type Capability string

const (
	AdminOnly   Capability = "admin_only"
	SelfOnly    Capability = "self_only"
	SelfOrAdmin Capability = "self_or_admin"
)

// Caller is the authenticated principal making a request.
type Caller struct {
	ID   string
	Role string
}

const capabilityQuery = "data.roomchat.capability.allow"

const capabilityPolicy = `package roomchat.capability

default allow := false

is_admin if input.caller.role == "admin"

is_owner if {
	input.caller.id != ""
	input.caller.id == input.owner_id
}

allow if {
	input.capability == "admin_only"
	is_admin
}

allow if {
	input.capability == "self_only"
	is_owner
}

allow if {
	input.capability == "self_or_admin"
	is_admin
}

allow if {
	input.capability == "self_or_admin"
	is_owner
}
`

// Authorizer evaluates capabilities against the compiled policy. Safe for concurrent use.
type Authorizer struct {
	query rego.PreparedEvalQuery
}

// NewAuthorizer compiles the capability policy.
func NewAuthorizer(ctx context.Context) (*Authorizer, error) {
	q, err := rego.New(
		rego.Query(capabilityQuery),
		rego.Module("capability.rego", capabilityPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: compile policy: %w", err)
	}
	return &Authorizer{query: q}, nil
}

// Check returns nil when caller holds capability over the resource owned by ownerID.
// ownerID is ignored by admin_only.
func (a *Authorizer) Check(ctx context.Context, capability Capability, caller Caller, ownerID string) error {
	if caller.ID == "" {
		return ErrUnauthenticated
	}
	input := map[string]any{
		"capability": string(capability),
		"caller":     map[string]any{"id": caller.ID, "role": caller.Role},
		"owner_id":   ownerID,
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("rbac: eval: %w", err)
	}
	if !rs.Allowed() {
		return ErrForbidden
	}
	return nil
}

// HealthCheck evaluates a known-allowed input so a broken policy shows up in /healthz.
func (a *Authorizer) HealthCheck(ctx context.Context) error {
	return a.Check(ctx, SelfOnly, Caller{ID: "health", Role: "user"}, "health")
}
