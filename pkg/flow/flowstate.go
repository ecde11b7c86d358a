package flow

import "net/url"

// Operation selects what the callback does with the exchanged identity.
type Operation string

const (
	// OpLogin logs the subject in, creating an account if policy allows.
	OpLogin Operation = "login"
	// OpConnect binds the subject to the already-authenticated account.
	OpConnect Operation = "connect"
)

// FlowState carries the parameters of a pending login attempt from initiation
// to callback. It is created when authentication is initiated, read exactly
// once by the callback, then destroyed regardless of outcome.
type FlowState struct {
	// Destination is the internal path to land on after the callback.
	Destination string `json:"destination,omitempty"`
	// Query holds optional query options rendered onto the destination.
	Query url.Values `json:"query,omitempty"`
	// Operation defaults to OpLogin when absent.
	Operation Operation `json:"op,omitempty"`
	// ConnectUserID is the account a connect operation must target. A connect
	// only executes when it equals the session's current user.
	ConnectUserID string `json:"connect_uid,omitempty"`
}
