package account

import "context"

// RegistrationMode controls whether a login for an unknown subject may create
// an account.
type RegistrationMode int

const (
	// RegistrationAdminOnly blocks automatic account creation.
	RegistrationAdminOnly RegistrationMode = iota
	// RegistrationVisitors allows any authenticated subject to register.
	RegistrationVisitors
	// RegistrationVisitorsApproval registers the account but leaves it
	// pending administrator approval.
	RegistrationVisitorsApproval
)

func (m RegistrationMode) String() string {
	switch m {
	case RegistrationAdminOnly:
		return "admin_only"
	case RegistrationVisitors:
		return "visitors"
	case RegistrationVisitorsApproval:
		return "visitors_approval"
	default:
		return "unknown"
	}
}

// ParseRegistrationMode maps a configuration string onto a mode; unknown
// values fall back to the closed default.
func ParseRegistrationMode(s string) RegistrationMode {
	switch s {
	case "visitors":
		return RegistrationVisitors
	case "visitors_approval":
		return RegistrationVisitorsApproval
	default:
		return RegistrationAdminOnly
	}
}

// PolicyStore is the capability answering registration-policy questions.
type PolicyStore interface {
	// RegistrationMode returns the site-wide registration mode.
	RegistrationMode(ctx context.Context) RegistrationMode
	// OverrideRegistration reports whether the module-level override allows
	// account creation even when the mode is RegistrationAdminOnly.
	OverrideRegistration(ctx context.Context) bool
}

// Policy is a static PolicyStore, typically built from configuration.
type Policy struct {
	Mode     RegistrationMode
	Override bool
}

func (p Policy) RegistrationMode(ctx context.Context) RegistrationMode { return p.Mode }
func (p Policy) OverrideRegistration(ctx context.Context) bool         { return p.Override }

// AllowsRegistration reports whether a login for an unknown subject may
// create an account under the given policy.
func AllowsRegistration(ctx context.Context, p PolicyStore) bool {
	if p.RegistrationMode(ctx) != RegistrationAdminOnly {
		return true
	}
	return p.OverrideRegistration(ctx)
}
