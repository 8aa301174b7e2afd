package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/mocks"
)

func setupRouter(resolver *mocks.ResolverMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(resolver), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	resolver := new(mocks.ResolverMock)
	resolver.On("Resolve", mock.Anything, "Bearer good").Return("trainer-1", nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	setupRouter(resolver).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trainer-1", rec.Body.String())
	resolver.AssertExpectations(t)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	resolver := new(mocks.ResolverMock)
	resolver.On("Resolve", mock.Anything, "Bearer bad").
		Return("", apperr.Unauthenticated("identity.resolve", errors.New("expired"))).Once()
	router := setupRouter(resolver)

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"bad token":    "Bearer bad",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	resolver.AssertExpectations(t)
}
