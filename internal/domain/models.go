package domain

import "time"

// Routes the registration app navigates between.
const (
	RouteRegister = "/"
	RouteHome     = "/home"
	RouteSSO      = "/sso"
)

// Draft is the registration form as typed by the visitor.
type Draft struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

// Flags tracks which provider call is in flight for a visitor.
type Flags struct {
	Submitting   bool `json:"submitting"`
	Verifying    bool `json:"verifying"`
	OAuthPending bool `json:"oauth_pending"`
}

// Busy reports whether any provider call is in flight.
func (f Flags) Busy() bool {
	return f.Submitting || f.Verifying || f.OAuthPending
}

// VerificationStatus is the provider-reported state of a sign-up attempt.
type VerificationStatus string

const (
	StatusComplete           VerificationStatus = "complete"
	StatusMissingRequirement VerificationStatus = "missing_requirements"
	StatusAbandoned          VerificationStatus = "abandoned"
)

// Verification is the result of confirming an email one-time code.
type Verification struct {
	Status           VerificationStatus `json:"status"`
	CreatedSessionID string             `json:"created_session_id,omitempty"`
	CreatedUserID    string             `json:"created_user_id,omitempty"`
}

// Session is an activated identity-provider session.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Token  string `json:"-"`
}

// OAuthRequest describes a redirect handshake with an external provider.
type OAuthRequest struct {
	Provider     string
	CallbackPath string
	SuccessPath  string
}

// OAuthResult is what the callback landing learns once the handshake returns.
type OAuthResult struct {
	Status      VerificationStatus
	SessionID   string
	UserID      string
	SuccessPath string
}

// UserInfo represents the normalized profile returned by an OAuth provider.
type UserInfo struct {
	ProviderName  string `json:"provider"`
	ProviderID    string `json:"provider_id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// StatePayload is the data embedded in the HMAC-signed OAuth state token.
type StatePayload struct {
	Provider    string    `json:"prv"`
	SuccessPath string    `json:"suc"`
	Nonce       string    `json:"nce"`
	ExpiresAt   time.Time `json:"exp"`
}

// VisitorPayload is the data sealed inside the visitor cookie (AES-GCM).
type VisitorPayload struct {
	FlowID    string    `json:"fid"`
	ExpiresAt time.Time `json:"exp"`
}
