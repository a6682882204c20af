package collab

import "net/http"

// AuthChallenge describes the failed response (401 or 407) an Authenticator
// must react to.
type AuthChallenge struct {
	RouteAddr   string
	StatusCode  int
	Headers     http.Header
	IsProxyAuth bool
}

// AuthResult carries the headers a retried request should add (typically
// Authorization or Proxy-Authorization). A nil *AuthResult from Authenticate
// means "accept the failure" (§4.5 follow-up rules: 401/407 → authenticator
// returns a new request with credentials, or nothing).
type AuthResult struct {
	Headers http.Header
}

// Authenticator reacts to a 401/407 challenge. Returning (nil, nil) declines
// to authenticate and lets the failure surface to the caller.
type Authenticator interface {
	Authenticate(challenge AuthChallenge) (*AuthResult, error)
}

// NoAuthenticator always declines. Default when no authenticator is
// configured.
type NoAuthenticator struct{}

// Authenticate always returns (nil, nil).
func (NoAuthenticator) Authenticate(challenge AuthChallenge) (*AuthResult, error) {
	return nil, nil
}
