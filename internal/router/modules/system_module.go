package modules

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	handlers "github.com/oksasatya/user-accounts-api/internal/interface/http"
	"github.com/oksasatya/user-accounts-api/internal/metrics"
)

// SystemModule serves /healthz and, when a gatherer is set, /metrics.
type SystemModule struct {
	Gatherer prometheus.Gatherer
}

func NewSystemModule(g prometheus.Gatherer) *SystemModule { return &SystemModule{Gatherer: g} }

func (m *SystemModule) Register(rg *gin.RouterGroup) {
	rg.GET("/healthz", handlers.Health)
	if m.Gatherer != nil {
		rg.GET("/metrics", gin.WrapH(metrics.Handler(m.Gatherer)))
	}
}
