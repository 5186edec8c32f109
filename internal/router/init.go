package router

import (
	"github.com/prometheus/client_golang/prometheus"

	appuser "github.com/oksasatya/user-accounts-api/internal/application"
	"github.com/oksasatya/user-accounts-api/internal/container"
	repouser "github.com/oksasatya/user-accounts-api/internal/domain/repository"
	meminfra "github.com/oksasatya/user-accounts-api/internal/infrastructure/memory"
	pginfra "github.com/oksasatya/user-accounts-api/internal/infrastructure/postgres"
	redisinfra "github.com/oksasatya/user-accounts-api/internal/infrastructure/redis"
	handlers "github.com/oksasatya/user-accounts-api/internal/interface/http"
	"github.com/oksasatya/user-accounts-api/internal/router/modules"
)

type UserModuleDeps struct {
	Repo    repouser.UserRepository
	Service *appuser.Service
	Handler *handlers.UserHandler
}

func buildRepo() repouser.UserRepository {
	if container.GetConfig().DBDriver == "memory" {
		return meminfra.NewUserRepository()
	}
	return pginfra.NewUserRepository(container.GetPGPool())
}

// buildUserDeps assembles the user service. Collaborators are only assigned when
// present so the service sees a nil interface, never a typed nil. Index, Mail and
// Metrics are optional; without Redis the service rejects refresh and logout.
func buildUserDeps() UserModuleDeps {
	cfg := container.GetConfig()
	repo := buildRepo()

	service := appuser.NewService(repo, container.GetJWT(), container.GetLogger())
	service.AppName = cfg.AppName
	if rdb := container.GetRedis(); rdb != nil {
		service.Revoker = redisinfra.NewTokenDenylist(rdb)
	}
	if idx := container.GetUserIndex(); idx != nil {
		service.Index = idx
	}
	if pub := container.GetRabbitPub(); pub != nil && cfg.MailSendEnabled {
		service.Mail = pub
	}
	if col := container.GetCollector(); col != nil {
		service.Metrics = col
	}

	return UserModuleDeps{
		Repo:    repo,
		Service: service,
		Handler: handlers.NewUserHandler(service, container.GetLogger()),
	}
}

// InitModules initializes all application modules and registers them with the router registry.
// Call once during startup, after the container is populated.
func InitModules(r *Registry) UserModuleDeps {
	userDeps := buildUserDeps()
	r.Add(modules.NewUserModule(userDeps.Handler, userDeps.Service))

	var gatherer prometheus.Gatherer
	if reg := container.GetPromRegistry(); reg != nil {
		gatherer = reg
	}
	r.Add(modules.NewSystemModule(gatherer))
	return userDeps
}
