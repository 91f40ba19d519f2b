package ledger

import "fmt"

// =============================================================================
// ACTORS & CAPABILITIES
// =============================================================================

// Role is supplied by the identity provider alongside the actor id.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleConsultant Role = "consultant"
	RoleCustomer   Role = "customer"
)

func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleConsultant || r == RoleCustomer
}

// Capability is a single permission checked at the service boundary.
type Capability string

const (
	CapCreateBalance      Capability = "create_balance"
	CapUpdateBalance      Capability = "update_balance"
	CapDeleteBalance      Capability = "delete_balance"
	CapViewAllBalances    Capability = "view_all_balances"
	CapLogTransaction     Capability = "log_transaction"
	CapCorrectTransaction Capability = "correct_transaction"
	CapTrackTime          Capability = "track_time"
)

// CapabilitySet is an unordered set of capabilities.
type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

var roleCapabilities = map[Role]CapabilitySet{
	RoleStaff: NewCapabilitySet(
		CapCreateBalance,
		CapUpdateBalance,
		CapDeleteBalance,
		CapViewAllBalances,
		CapLogTransaction,
		CapCorrectTransaction,
		CapTrackTime,
	),
	RoleConsultant: NewCapabilitySet(),
	RoleCustomer:   NewCapabilitySet(),
}

// CapabilitiesFor returns the capability set granted to role.
func CapabilitiesFor(role Role) CapabilitySet {
	if caps, ok := roleCapabilities[role]; ok {
		return caps
	}
	return NewCapabilitySet()
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by background jobs (expiry sweeps).
var SystemActor = Actor{ID: "system", Role: RoleStaff}

func (a Actor) Can(c Capability) bool {
	return a.ID != "" && CapabilitiesFor(a.Role).Has(c)
}

// CanSee reports whether a may read b.
func (a Actor) CanSee(b Balance) bool {
	return a.Can(CapViewAllBalances) || (a.ID != "" && b.CustomerID == a.ID)
}

// Authorize returns an ErrUnauthorized-wrapping error unless a holds c.
func Authorize(a Actor, c Capability) error {
	if a.ID == "" {
		return fmt.Errorf("%w: no authenticated actor", ErrUnauthorized)
	}
	if !a.Can(c) {
		return fmt.Errorf("%w: role %q lacks %s", ErrUnauthorized, a.Role, c)
	}
	return nil
}
