package domain

import (
	"fmt"
	"strings"
)

// Role is the caller's resolved employee role.
type Role string

const (
	RoleAgent         Role = "agent"
	RoleBranchManager Role = "branch_manager"
	RoleAdmin         Role = "admin"
	// RoleSystem is used by the scheduler; it is never issued to a person.
	RoleSystem Role = "system"
)

// ParseRole normalises "Agent", "Branch Manager", "branch_manager", etc.
func ParseRole(s string) (Role, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch Role(norm) {
	case RoleAgent, RoleBranchManager, RoleAdmin:
		return Role(norm), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrUnauthorized, s)
	}
}

// Actor is the authorization context supplied with each call.
type Actor struct {
	Role       Role
	EmployeeID string
	BranchID   string
}

// SystemActor is the identity used by scheduled passes.
var SystemActor = Actor{Role: RoleSystem, EmployeeID: "SYSTEM"}

// CanOperateAccount applies the scoping rule for account-level operations:
// agents only on accounts they opened, branch managers only within their
// branch. The system actor of the scheduled passes may post to any account.
func (a Actor) CanOperateAccount(acc SavingsAccount) error {
	switch a.Role {
	case RoleSystem:
		return nil
	case RoleAgent:
		if a.EmployeeID == "" || acc.OwnerEmployeeID != a.EmployeeID {
			return fmt.Errorf("%w: agents may only operate accounts they opened", ErrUnauthorized)
		}
		return nil
	case RoleBranchManager:
		if a.BranchID == "" || acc.BranchID != a.BranchID {
			return fmt.Errorf("%w: branch managers may only operate accounts in their branch", ErrUnauthorized)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q", ErrUnauthorized, a.Role)
	}
}

// RequireRole fails unless the actor holds one of roles.
func (a Actor) RequireRole(roles ...Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q", ErrUnauthorized, a.Role)
}

// CanViewAccount extends CanOperateAccount with read access for admins.
func (a Actor) CanViewAccount(acc SavingsAccount) error {
	if a.Role == RoleAdmin {
		return nil
	}
	return a.CanOperateAccount(acc)
}
