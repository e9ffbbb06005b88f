package identity

// Capability is a compile-time identifier for an action a role may perform.
// Capabilities replace runtime permission-codename lookups: the full set is
// known at build time and roles map to fixed capability sets.
type Capability string

const (
	CapabilityRecordUsage       Capability = "usage.record"
	CapabilityViewUsage         Capability = "usage.view"
	CapabilityBuildInvoice      Capability = "invoice.build"
	CapabilityManageInvoices    Capability = "invoice.manage"
	CapabilityManageCredits     Capability = "credit.manage"
	CapabilityViewBalance       Capability = "credit.view"
	CapabilityManagePlans       Capability = "plan.manage"
	CapabilityManageSubscribers Capability = "subscription.manage"
	CapabilityViewAuditTrail    Capability = "audit.view"
	CapabilityManageTenant      Capability = "tenant.manage"
)

// Role is a named set of capabilities within a tenant
type Role string

const (
	RoleOwner   Role = "owner"
	RoleBilling Role = "billing_admin"
	RoleMember  Role = "member"
	RoleAuditor Role = "auditor"
)

// roleCapabilities maps each role to its capability set. The map is the single
// source of truth; there is no runtime registration.
var roleCapabilities = map[Role][]Capability{
	RoleOwner: {
		CapabilityRecordUsage, CapabilityViewUsage,
		CapabilityBuildInvoice, CapabilityManageInvoices,
		CapabilityManageCredits, CapabilityViewBalance,
		CapabilityManagePlans, CapabilityManageSubscribers,
		CapabilityViewAuditTrail, CapabilityManageTenant,
	},
	RoleBilling: {
		CapabilityRecordUsage, CapabilityViewUsage,
		CapabilityBuildInvoice, CapabilityManageInvoices,
		CapabilityManageCredits, CapabilityViewBalance,
		CapabilityManageSubscribers,
	},
	RoleMember: {
		CapabilityRecordUsage, CapabilityViewUsage, CapabilityViewBalance,
	},
	RoleAuditor: {
		CapabilityViewUsage, CapabilityViewBalance, CapabilityViewAuditTrail,
	},
}

// IsValid returns true if the role is known
func (r Role) IsValid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Capabilities returns a copy of the role's capability set
func (r Role) Capabilities() []Capability {
	caps := roleCapabilities[r]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Can returns true if the role grants the capability
func (r Role) Can(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}
