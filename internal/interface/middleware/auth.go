package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/user-accounts-api/internal/application"
	"github.com/oksasatya/user-accounts-api/internal/domain/entity"
)

const (
	CtxUserKey   = "user"
	CtxUserIDKey = "userID"
)

// Authenticator resolves an access token to the stored caller.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*entity.User, error)
}

func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Auth validates the bearer access token and loads the caller.
// It sets user (*entity.User) and userID in the Gin context on success.
func Auth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, application.NewAuthentication("authentication credentials were not provided"))
			return
		}
		u, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(CtxUserKey, u)
		c.Set(CtxUserIDKey, u.ID)
		c.Next()
	}
}

// AdminOnly must run after Auth. It rejects callers without the admin flag
// before any request body is read.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := application.RequireAdmin(CurrentUser(c)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the caller set by Auth, or nil.
func CurrentUser(c *gin.Context) *entity.User {
	v, ok := c.Get(CtxUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*entity.User)
	return u
}

// StatusFor maps an application error kind to its HTTP status.
func StatusFor(err error) int {
	switch application.KindOf(err) {
	case application.KindValidation:
		return http.StatusBadRequest
	case application.KindAuthentication:
		return http.StatusUnauthorized
	case application.KindAuthorization:
		return http.StatusForbidden
	case application.KindNotFound:
		return http.StatusNotFound
	case application.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
