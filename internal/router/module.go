package router

import "github.com/gin-gonic/gin"

// Module registers its routes on the root group. Modules are mounted in the order they were added.
type Module interface {
	Register(rg *gin.RouterGroup)
}
