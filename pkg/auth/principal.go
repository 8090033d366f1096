package auth

import "github.com/veriledger/veriledger/pkg/contracts"

// Principal is the authenticated caller: a JWT subject bound to exactly one
// tenant and one ledger role.
type Principal struct {
	Subject  string
	TenantID string
	Role     string
}

// EmitterClass returns the class this principal's appends are stamped with.
func (p Principal) EmitterClass() (contracts.EmitterClass, error) {
	return contracts.EmitterClassForRole(p.Role)
}
