package model

// Capability is an operation class checked by the permission gate.
type Capability string

// Capabilities.
const (
	CapViewProducts    Capability = "view_products"
	CapManageProducts  Capability = "manage_products"
	CapDeleteProducts  Capability = "delete_products"
	CapManageUsers     Capability = "manage_users"
	CapRequestHandover Capability = "request_handover"
	CapReturnHandover  Capability = "return_handover"
)

// CapabilitySet is the boolean flag vector derived from a role.
type CapabilitySet struct {
	ViewProducts    bool `json:"view_products"`
	ManageProducts  bool `json:"manage_products"`
	DeleteProducts  bool `json:"delete_products"`
	ManageUsers     bool `json:"manage_users"`
	RequestHandover bool `json:"request_handover"`
	ReturnHandover  bool `json:"return_handover"`
}

// DeriveCapabilities maps a role to its fixed capability vector. Unknown
// roles get nothing.
func DeriveCapabilities(role string) CapabilitySet {
	switch role {
	case RoleAdmin:
		return CapabilitySet{
			ViewProducts:   true,
			ManageProducts: true,
			DeleteProducts: true,
			ManageUsers:    true,
		}
	case RoleManager:
		return CapabilitySet{
			ViewProducts:   true,
			ManageProducts: true,
		}
	case RoleEmployee:
		return CapabilitySet{
			ViewProducts:    true,
			RequestHandover: true,
			ReturnHandover:  true,
		}
	default:
		return CapabilitySet{}
	}
}

// FailsafeCapabilities is the admin vector pinned to the failsafe account.
func FailsafeCapabilities() CapabilitySet {
	return DeriveCapabilities(RoleAdmin)
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	switch c {
	case CapViewProducts:
		return s.ViewProducts
	case CapManageProducts:
		return s.ManageProducts
	case CapDeleteProducts:
		return s.DeleteProducts
	case CapManageUsers:
		return s.ManageUsers
	case CapRequestHandover:
		return s.RequestHandover
	case CapReturnHandover:
		return s.ReturnHandover
	}
	return false
}

// HasCapability is the permission gate lookup.
func HasCapability(u *User, c Capability) bool {
	return u.Can(c)
}
