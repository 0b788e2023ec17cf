// Package auth checks client credentials for both carriers: HTTP Basic
// headers and the socket "auth" handshake.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// Realm is announced in WWW-Authenticate on 401 replies.
const Realm = "JSON-RPC"

// Func reports whether the supplied credentials are valid. Implementations
// must not reveal which half was wrong.
type Func func(username, password string) bool

// Static accepts exactly one username/password pair. Both halves are always
// compared so timing does not depend on which one mismatches.
func Static(username, password string) Func {
	return func(u, p string) bool {
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username))
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password))
		return userOK&passOK == 1
	}
}

// BasicHeader renders an Authorization header value.
func BasicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// ParseBasic extracts credentials from an Authorization header value. The
// token is the last whitespace-separated field; a missing colon yields an
// empty password.
func ParseBasic(header string) (username, password string, ok bool) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[len(fields)-1])
	if err != nil {
		return "", "", false
	}
	username, password, _ = strings.Cut(string(decoded), ":")
	return username, password, true
}

// Mask hides the credential part of an Authorization header for logging.
func Mask(header string) string {
	if header == "" {
		return ""
	}
	scheme, _, found := strings.Cut(header, " ")
	if !found {
		return "***"
	}
	return scheme + " ***"
}
