// Package githubapp implements GitHub App authentication and the hosting
// client used by the review pipeline.
package githubapp

import (
	"crypto/rsa"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/procrasturbate/procrasturbate/pkg/errors"
)

// JWT validity window required by the GitHub Apps API. Issued-at is
// backdated to absorb clock drift.
const (
	jwtBackdate = 60 * time.Second
	jwtLifetime = 10 * time.Minute
)

// AppAuth signs the short-lived JWTs exchanged for installation tokens.
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
}

// NewAppAuth parses the App's PEM-encoded RSA key.
func NewAppAuth(appID int64, privateKeyPEM []byte) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to parse app private key", err)
	}
	return &AppAuth{appID: appID, privateKey: key}, nil
}

// AppID returns the GitHub App identifier.
func (a *AppAuth) AppID() int64 {
	return a.appID
}

// GenerateJWT signs a new app JWT with iat backdated 60 seconds and a
// 10 minute expiry, issuer set to the app id.
func (a *AppAuth) GenerateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(a.appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeHostAuth, "failed to sign app jwt", err)
	}
	return signed, nil
}

// jwtTransport injects a freshly signed app JWT into each request. App
// endpoints (token exchange) require JWT auth rather than a token.
type jwtTransport struct {
	auth *AppAuth
	base http.RoundTripper
}

func (t *jwtTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	signed, err := t.auth.GenerateJWT()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+signed)
	clone.Header.Set("Accept", "application/vnd.github+json")
	return t.base.RoundTrip(clone)
}

// newAppHTTPClient returns an HTTP client authenticated as the App itself.
func newAppHTTPClient(auth *AppAuth) *http.Client {
	return &http.Client{
		Transport: &jwtTransport{auth: auth, base: http.DefaultTransport},
		Timeout:   30 * time.Second,
	}
}
