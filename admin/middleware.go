package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/maxpert/termlog/cfg"
)

const secretHeader = "X-Termlog-Secret"

var (
	errMissingAuth = errors.New("missing authentication header")
	errBadAuth     = errors.New("invalid authorization header format")
)

// presentedSecret returns the secret a request carries, either in
// X-Termlog-Secret or as an Authorization bearer token
func presentedSecret(r *http.Request) (string, error) {
	if s := r.Header.Get(secretHeader); s != "" {
		return s, nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errMissingAuth
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuth
	}
	return token, nil
}

// AuthMiddleware rejects requests that do not carry the configured admin
// secret. An empty secret disables the check.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := cfg.Config.Admin.Secret
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}

		got, err := presentedSecret(r)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
