package enums

import "fmt"

// StaffRole represents the restaurant role carried by a staff access token.
type StaffRole string

const (
	StaffRoleKitchen StaffRole = "kitchen"
	StaffRoleCashier StaffRole = "cashier"
	StaffRoleWaiter  StaffRole = "waiter"
	StaffRoleManager StaffRole = "manager"
)

var validStaffRoles = []StaffRole{
	StaffRoleKitchen,
	StaffRoleCashier,
	StaffRoleWaiter,
	StaffRoleManager,
}

// String implements fmt.Stringer.
func (r StaffRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known StaffRole.
func (r StaffRole) IsValid() bool {
	for _, candidate := range validStaffRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseStaffRole converts raw input into a StaffRole.
func ParseStaffRole(value string) (StaffRole, error) {
	for _, candidate := range validStaffRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid staff role %q", value)
}
