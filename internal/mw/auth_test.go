package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindcare/internal/model"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	token := signedToken(t, jwt.MapClaims{
		"user_id": userID.String(),
		"role":    string(model.RolePsychologist),
		"exp":     jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	var gotID uuid.UUID
	var gotRole model.Role
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserID(r.Context())
		gotRole, _ = UserRole(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	AuthMiddleware(testSecret)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, model.RolePsychologist, gotRole)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
	mw := AuthMiddleware(testSecret)(next)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + func() string {
			token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"user_id": uuid.NewString(),
				"exp":     jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}).SignedString([]byte("other-secret"))
			return token
		}()},
		{"expired", "Bearer " + signedToken(t, jwt.MapClaims{
			"user_id": uuid.NewString(),
			"exp":     jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})},
		{"bad user_id", "Bearer " + signedToken(t, jwt.MapClaims{
			"user_id": "42",
			"exp":     jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	chain := AuthMiddleware(testSecret)(RequireRole(model.RolePsychologist)(next))

	asRole := func(role model.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
			"user_id": uuid.NewString(),
			"role":    string(role),
			"exp":     jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}))
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, asRole(model.RolePsychologist).Code)
	assert.Equal(t, http.StatusForbidden, asRole(model.RoleParent).Code)
}
