package models

// LoginState is carried through the provider round trip inside an encrypted
// token. State is a random nonce also stored in the state cookie. A non-empty
// LinkUserID attaches the resolved identity to that account instead of
// looking one up.
type LoginState struct {
	State      string `json:"state" validate:"required,min=16"`
	RememberMe bool   `json:"rememberMe"`
	Referer    string `json:"referer" validate:"required,startswith=/"`
	Method     string `json:"method" validate:"required,oneof=email google github"`
	LinkUserID string `json:"linkUserID,omitempty" validate:"omitempty,max=64"`
}

// EmailLoginCode is the payload of the code embedded in a magic link.
// Timestamp is unix milliseconds at issuance.
type EmailLoginCode struct {
	Timestamp int64  `json:"timestamp" validate:"required,gt=0"`
	Email     string `json:"email" validate:"required,email"`
	Name      string `json:"name,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

// LoginPhase names a step of the login state machine.
type LoginPhase string

const (
	PhaseAwaitingRedirect LoginPhase = "awaiting_redirect"
	PhaseAwaitingCallback LoginPhase = "awaiting_callback"
	PhaseResolved         LoginPhase = "resolved"
	PhaseRejected         LoginPhase = "rejected"
)
