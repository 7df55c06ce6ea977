package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, opts Options, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var gotUser, gotSession string
	h := Middleware(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, gotUser, gotSession
}

func TestMiddlewareUsesGatewayHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultUserHeader, "u-42")
	req.Header.Set(SessionHeaderName, "tab-1")

	rec, user, session := serve(t, Options{}, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-42", user)
	assert.Equal(t, "tab-1", session)
}

func TestMiddlewareRejectsMissingUser(t *testing.T) {
	t.Parallel()

	rec, _, _ := serve(t, Options{}, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMalformedUser(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultUserHeader, "bad user/../x")
	rec, _, _ := serve(t, Options{}, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddlewareIssuesAnonymousCookie(t *testing.T) {
	t.Parallel()

	rec, user, session := serve(t, Options{AllowAnonymous: true, IsDev: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, strings.HasPrefix(user, "anon_"))
	assert.Equal(t, DefaultSessionIDValue, session)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.Equal(t, user, cookies[0].Value)

	// The cookie is reused on the next request.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	_, again, _ := serve(t, Options{AllowAnonymous: true, IsDev: true}, req)
	assert.Equal(t, user, again)
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tab-1", sanitizeSessionID(" tab-1 "))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID(""))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID("../../etc"))
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(t.Context(), "u1", "")
	assert.Equal(t, "u1", UserIDFromContext(ctx))
	assert.Equal(t, DefaultSessionIDValue, SessionIDFromContext(ctx))
}
