package domain

// Role identifies which side of a support conversation a participant is on.
type Role string

const (
	RoleEndUser      Role = "end_user"
	RoleCanteenStaff Role = "canteen_staff"
	RoleAdmin        Role = "admin"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleEndUser, RoleCanteenStaff, RoleAdmin:
		return true
	}
	return false
}

// IsSupportSide reports whether the role may participate in any ticket.
// End users are restricted to tickets they are a participant of.
func (r Role) IsSupportSide() bool {
	return r == RoleCanteenStaff || r == RoleAdmin
}
