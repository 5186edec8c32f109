package modules

import (
	"github.com/gin-gonic/gin"

	handlers "github.com/oksasatya/user-accounts-api/internal/interface/http"
	"github.com/oksasatya/user-accounts-api/internal/interface/middleware"
)

// UserModule wires the user handlers under /users.
// Public: POST /users/login/, /users/login/refresh/, /users/register/
// Bearer: POST /users/logout/, GET /users/profile/
// Bearer + admin: list, get, update, delete, search
type UserModule struct {
	Handler *handlers.UserHandler
	Authn   middleware.Authenticator
}

func NewUserModule(h *handlers.UserHandler, authn middleware.Authenticator) *UserModule {
	return &UserModule{Handler: h, Authn: authn}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	users := rg.Group("/users")

	users.POST("/login/", m.Handler.Login)
	users.POST("/login/refresh/", m.Handler.Refresh)
	users.POST("/register/", m.Handler.Register)

	auth := users.Group("/")
	auth.Use(middleware.Auth(m.Authn))
	{
		auth.POST("/logout/", m.Handler.Logout)
		auth.GET("/profile/", m.Handler.Profile)
	}

	admin := users.Group("/")
	admin.Use(middleware.Auth(m.Authn), middleware.AdminOnly())
	{
		admin.GET("/", m.Handler.List)
		admin.GET("/search/", m.Handler.Search)
		admin.GET("/:id/", m.Handler.Get)
		admin.PUT("/update/:id/", m.Handler.Update)
		admin.DELETE("/delete/:id/", m.Handler.Delete)
	}
}
