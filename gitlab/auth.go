package gitlab

import (
	"net/http"
	"os"
)

// Environment variables consulted when no explicit token is configured,
// in decreasing precedence. CI_JOB_TOKEN is provided by GitLab CI runners.
const (
	envPrivateToken = "GITLAB_PRIVATE_TOKEN"
	envOAuthToken   = "GITLAB_OAUTH_TOKEN"
	envJobToken     = "GITLAB_JOB_TOKEN"
	envCIJobToken   = "CI_JOB_TOKEN"
)

// Credentials holds the authentication context for a Client. At most one
// token is used per request, selected by fixed precedence:
//
//	explicit PrivateToken > explicit OAuthToken > explicit JobToken >
//	$GITLAB_PRIVATE_TOKEN > $GITLAB_OAUTH_TOKEN > $GITLAB_JOB_TOKEN >
//	$CI_JOB_TOKEN
//
// The zero value means anonymous access (public projects only).
type Credentials struct {
	PrivateToken string
	OAuthToken   string
	JobToken     string
}

// IsZero reports whether no token is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// withEnvFallback returns the credentials completed from the environment
// when no explicit token is set. Explicit tokens always win; the
// environment is only consulted when all three fields are empty.
func (c Credentials) withEnvFallback() Credentials {
	if !c.IsZero() {
		return c
	}
	if v := os.Getenv(envPrivateToken); v != "" {
		return Credentials{PrivateToken: v}
	}
	if v := os.Getenv(envOAuthToken); v != "" {
		return Credentials{OAuthToken: v}
	}
	if v := os.Getenv(envJobToken); v != "" {
		return Credentials{JobToken: v}
	}
	if v := os.Getenv(envCIJobToken); v != "" {
		return Credentials{JobToken: v}
	}
	return c
}

// apply attaches the selected token to a request as the proper header.
func (c Credentials) apply(req *http.Request) {
	switch {
	case c.PrivateToken != "":
		req.Header.Set("PRIVATE-TOKEN", c.PrivateToken)
	case c.OAuthToken != "":
		req.Header.Set("Authorization", "Bearer "+c.OAuthToken)
	case c.JobToken != "":
		req.Header.Set("JOB-TOKEN", c.JobToken)
	}
}
