package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner() Signer {
	return Signer{Key: "test-key", Issuer: "academy", AccessTTL: time.Minute, RefreshTTL: time.Hour}
}

func TestIssueAndParse(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("s1", RoleStudent)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := s.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.False(t, claims.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	s := testSigner()
	pair, err := s.Issue("admin", RoleAdmin)
	require.NoError(t, err)

	other := s
	other.Key = "other-key"
	_, err = other.Parse(pair.AccessToken)
	assert.Error(t, err)

	other = s
	other.Issuer = "someone-else"
	_, err = other.Parse(pair.AccessToken)
	assert.ErrorContains(t, err, "issuer")

	expired := s
	expired.AccessTTL = -time.Minute
	old, err := expired.Issue("admin", RoleAdmin)
	require.NoError(t, err)
	_, err = s.Parse(old.AccessToken)
	assert.Error(t, err)

	_, err = s.Issue("x", "instructor")
	assert.Error(t, err)
}

func newRouter(s Signer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", Authenticate(s))
	api.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/students/:id", func(c *gin.Context) {
		if !CanAccessStudent(c, c.Param("id")) {
			c.Status(http.StatusForbidden)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	s := testSigner()
	r := newRouter(s)
	admin, err := s.Issue("ops", RoleAdmin)
	require.NoError(t, err)
	student, err := s.Issue("s1", RoleStudent)
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/api/admin", "", http.StatusUnauthorized},
		{"garbage", "/api/admin", "Bearer nope", http.StatusUnauthorized},
		{"admin", "/api/admin", "Bearer " + admin.AccessToken, http.StatusOK},
		{"lowercase scheme", "/api/admin", "bearer " + admin.AccessToken, http.StatusOK},
		{"student on admin route", "/api/admin", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"student reads self", "/api/students/s1", "Bearer " + student.AccessToken, http.StatusOK},
		{"student reads other", "/api/students/s2", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"admin reads anyone", "/api/students/s2", "Bearer " + admin.AccessToken, http.StatusOK},
		{"query token", "/api/admin?access_token=" + admin.AccessToken, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
