package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/common"
)

var issuedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "ops", Audience: "discount-api", Now: func() time.Time { return now }})
	require.NoError(t, err)
	return v
}

func TestTokenValidatorRejects(t *testing.T) {
	now := issuedAt
	build := func(iss string, nbf, exp time.Time) jwt.Token {
		tok, err := jwt.NewBuilder().Issuer(iss).Audience([]string{"aud"}).Subject("sub").IssuedAt(now).NotBefore(nbf).Expiration(exp).Build()
		require.NoError(t, err)
		return tok
	}
	v := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}

	require.NoError(t, v.Validate(build("issuer", now, now.Add(time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(build("other", now, now.Add(time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(build("issuer", now.Add(-time.Hour), now.Add(-time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(build("issuer", now.Add(5*time.Minute), now.Add(10*time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(build("issuer", now, now.Add(time.Minute)), jwa.RS256, now))
	require.Error(t, v.Validate(nil, jwa.HS256, now))
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newVerifier(t, issuedAt)
	token, err := v.Issue("ops-user", []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "ops-user", claims.Subject)
	require.Equal(t, []string{RoleAdmin}, claims.Roles)

	later := newVerifier(t, issuedAt.Add(2*time.Hour))
	_, err = later.Parse(token)
	require.Error(t, err)

	other, err := NewVerifier(Config{Secret: "different", Issuer: "ops", Audience: "discount-api", Now: func() time.Time { return issuedAt }})
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.Error(t, err)

	_, err = NewVerifier(Config{})
	require.Error(t, err)
}

func TestMiddlewareRequireAuthAndRole(t *testing.T) {
	v := newVerifier(t, issuedAt)
	admin, err := v.Issue("alice", []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)
	viewer, err := v.Issue("bob", []string{"viewer"}, time.Hour)
	require.NoError(t, err)

	var seen string
	handler := Middleware{Verifier: v}.RequireAuth(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/discounts/calculate", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("Bearer not-a-jwt"))
	require.Equal(t, http.StatusForbidden, call("Bearer "+viewer))
	require.Equal(t, http.StatusNoContent, call("bearer "+admin))
	require.Equal(t, "alice", seen)
}
