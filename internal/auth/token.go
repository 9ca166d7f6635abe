// Package auth authorizes requests with hour-rotating tokens derived from two
// shared secrets, one per caller role.
//
// A token for secret S at unix time t is the hex SHA-256 of the decimal string
// of (sum of the code points of S) + floor(t/3600). Tokens of the current and
// the previous hour are accepted, so a token stays valid for at least one
// full hour after it was minted.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"recommerce"
)

// Secrets holds the shared secret for each role. An empty secret disables
// that role.
type Secrets struct {
	Webserver string
	Developer string
}

// Token returns the token for secret at time now.
func Token(secret string, now time.Time) string {
	return tokenForHour(secret, hourOf(now))
}

// Pair returns the tokens accepted at time now: previous hour, current hour.
func Pair(secret string, now time.Time) [2]string {
	h := hourOf(now)
	return [2]string{tokenForHour(secret, h-1), tokenForHour(secret, h)}
}

func hourOf(t time.Time) int64 {
	return t.Unix() / 3600
}

func tokenForHour(secret string, hour int64) string {
	var sum int64
	for _, r := range secret {
		sum += int64(r)
	}
	digest := sha256.Sum256([]byte(strconv.FormatInt(sum+hour, 10)))
	return hex.EncodeToString(digest[:])
}

// Authenticator maps an authorization header value to a role.
type Authenticator struct {
	secrets Secrets
	now     func() time.Time
}

// New returns an Authenticator. A nil now uses time.Now.
func New(secrets Secrets, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{secrets: secrets, now: now}
}

// Authorize returns the role whose token matches header, or RoleDenied.
// The webserver secret is checked first. Every candidate is compared so the
// time taken does not depend on which one matched.
func (a *Authenticator) Authorize(header string) recommerce.Role {
	if header == "" {
		return recommerce.RoleDenied
	}
	now := a.now()
	web := matches(a.secrets.Webserver, header, now)
	dev := matches(a.secrets.Developer, header, now)
	switch {
	case web:
		return recommerce.RoleWebserver
	case dev:
		return recommerce.RoleDeveloper
	default:
		return recommerce.RoleDenied
	}
}

func matches(secret, header string, now time.Time) bool {
	if secret == "" {
		return false
	}
	got := []byte(header)
	ok := 0
	for _, tok := range Pair(secret, now) {
		ok |= subtle.ConstantTimeCompare(got, []byte(tok))
	}
	return ok == 1
}
