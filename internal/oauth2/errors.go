// Package oauth2 implements the authorization-code flow that connects a
// third-party application to a user's mail account: credential verification,
// account upsert, code issuance and the token exchange.
package oauth2

// Kind classifies an authorization failure. The HTTP layer maps kinds to
// status codes; inside the package they are plain values.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindInvalidClient        Kind = "invalid_client"
	KindInvalidGrant         Kind = "invalid_grant"
	KindUnsupportedGrantType Kind = "unsupported_grant_type"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindInternal             Kind = "internal"
)

// Error carries a failure kind and a human-readable description safe to show
// to the client. It never contains credentials or full code values.
type Error struct {
	Kind        Kind
	Description string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Description
}

// E builds an *Error.
func E(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}
