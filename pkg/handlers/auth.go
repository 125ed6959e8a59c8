// Package handlers contains HTTP handlers for Smart-Music-Tags. This file
// groups authentication helpers and the OAuth login, callback and logout
// endpoints. Sessions are a signed cookie holding the Spotify user id; the
// Spotify tokens themselves stay encrypted in the database. CSRF protection
// uses a random token stored in a cookie which clients must echo back in the
// `X-CSRF-Token` header for all state changing requests.
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"Smart-Music-Tags/pkg/apperr"
	"Smart-Music-Tags/pkg/db"
)

const (
	sessionCookie = "spotify_user_id"
	stateCookie   = "oauth_state"
	csrfCookie    = "csrf_token"
	csrfHeader    = "X-CSRF-Token"
)

// signValue computes an HMAC signature for value and appends it using the
// format value|signature. The signature is base64 URL encoded so it can be
// safely stored in cookies.
func signValue(value string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return value + "|" + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyValue checks the HMAC signature appended to signed. It returns the
// original value and true when the signature matches the provided key.
func verifyValue(signed string, key []byte) (string, bool) {
	value, encSig, ok := strings.Cut(signed, "|")
	if !ok || strings.Contains(encSig, "|") {
		return "", false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil || !hmac.Equal(mac.Sum(nil), sig) {
		return "", false
	}
	return value, true
}

// setCSRFToken generates a new random token and sets it in a cookie. The
// cookie is not HttpOnly so client-side scripts can read the value and attach
// it to subsequent requests.
func setCSRFToken(w http.ResponseWriter, secure bool) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// verifyCSRF compares the X-CSRF-Token header with the csrf_token cookie in
// constant time.
func verifyCSRF(r *http.Request) bool {
	c, err := r.Cookie(csrfCookie)
	if err != nil || c.Value == "" {
		return false
	}
	header := r.Header.Get(csrfHeader)
	if header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) == 1
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// userFromCookie returns the verified Spotify user id from the session cookie.
func (app *Application) userFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	return verifyValue(c.Value, app.SignKey)
}

type userKey struct{}

// currentUser returns the user loaded by requireUser.
func currentUser(ctx context.Context) *db.User {
	u, _ := ctx.Value(userKey{}).(*db.User)
	return u
}

// requireUser authenticates the session cookie, enforces CSRF protection on
// state changing requests and loads the stored user into the request context.
func (app *Application) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := app.userFromCookie(r)
		if !ok {
			app.writeError(w, r, apperr.Unauthorized("authentication required"))
			return
		}
		if !safeMethod(r.Method) && !verifyCSRF(r) {
			app.writeError(w, r, apperr.Forbidden("invalid csrf token"))
			return
		}
		user, err := app.Users.UserBySpotifyID(r.Context(), id)
		if apperr.Is(err, apperr.ErrNotFound) {
			app.writeError(w, r, apperr.Unauthorized("authentication required"))
			return
		}
		if err != nil {
			app.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// Login begins the Spotify OAuth flow and redirects the user to the
// authorization URL with a signed state value stored in a cookie.
func (app *Application) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    signValue(state, app.SignKey),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, app.Auth.AuthURL(state), http.StatusFound)
}

// OAuthCallback completes the OAuth flow by exchanging the authorization code
// for a token, storing the user with both tokens and issuing the session and
// CSRF cookies.
func (app *Application) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil {
		app.writeError(w, r, apperr.Validation("state mismatch"))
		return
	}
	state, ok := verifyValue(c.Value, app.SignKey)
	if !ok || r.URL.Query().Get("state") != state {
		app.writeError(w, r, apperr.Validation("state mismatch"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	token, err := app.Auth.Token(r.Context(), state, r)
	if err != nil {
		app.logger().WithError(err).Warn("spotify token exchange failed")
		app.writeError(w, r, apperr.Unauthorized("authentication failed"))
		return
	}
	profile, err := app.Catalog.CurrentUser(r.Context(), token)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	user, err := app.Users.UpsertUser(r.Context(), profile.ID, profile.DisplayName, token.AccessToken, token.RefreshToken)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    signValue(user.SpotifyID, app.SignKey),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	if _, err := setCSRFToken(w, r.TLS != nil); err != nil {
		app.writeError(w, r, err)
		return
	}
	app.logger().WithField("user", user.SpotifyID).Info("user logged in")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout clears the session and CSRF cookies so the user must
// re-authenticate. Stored tokens are kept for the next login.
func (app *Application) Logout(w http.ResponseWriter, r *http.Request) {
	if !verifyCSRF(r) {
		app.writeError(w, r, apperr.Forbidden("invalid csrf token"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{Name: csrfCookie, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}
