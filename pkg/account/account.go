// Package account holds the local identity model and its storage
// capabilities. An account may pre-exist (subject already bound), be created
// during a login, or gain a new subject binding during a connect.
package account

import (
	"time"
)

// Account is a local identity. Subjects maps provider id to the provider's
// stable subject identifier; the (provider, sub) pair is unique across
// accounts.
type Account struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Properties map[string]string `json:"properties,omitempty"`
	Subjects   map[string]string `json:"subjects,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SetProperty records a mapped claim value, keeping the Name and Email
// convenience fields in sync with their property entries.
func (a *Account) SetProperty(name, value string) {
	if a.Properties == nil {
		a.Properties = make(map[string]string)
	}
	a.Properties[name] = value
	switch name {
	case "name":
		a.Name = value
	case "email", "mail":
		a.Email = value
	}
}

// Subject returns the sub bound for the given provider, or "".
func (a *Account) Subject(provider string) string {
	return a.Subjects[provider]
}

// PropertyPending marks an account created under visitors-with-approval
// registration. It stays set until an administrator activates the account.
const PropertyPending = "pending_approval"

// Pending reports whether the account awaits administrator approval. A
// pending account exists and holds its subject bindings but cannot log in.
func (a *Account) Pending() bool {
	return a.Properties[PropertyPending] == "true"
}
