package container

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-accounts-api/config"
	esinfra "github.com/oksasatya/user-accounts-api/internal/infrastructure/elasticsearch"
	"github.com/oksasatya/user-accounts-api/internal/metrics"
	"github.com/oksasatya/user-accounts-api/pkg/helpers"
)

// app-level container to share constructed components across packages.
// Router wires modules from these singletons; optional ones may be nil.

var (
	cfg         *config.Config
	logger      *logrus.Logger
	pgPool      *pgxpool.Pool
	redisClient *redis.Client

	jwtManager *helpers.JWTManager

	rabbitPub *helpers.RabbitPublisher
	userIndex *esinfra.UserIndex

	promRegistry *prometheus.Registry
	collector    *metrics.Collector
)

func SetConfig(c *config.Config)   { cfg = c }
func GetConfig() *config.Config    { return cfg }
func SetLogger(l *logrus.Logger)   { logger = l }
func GetLogger() *logrus.Logger    { return logger }
func SetPGPool(p *pgxpool.Pool)    { pgPool = p }
func GetPGPool() *pgxpool.Pool     { return pgPool }
func SetRedis(r *redis.Client)     { redisClient = r }
func GetRedis() *redis.Client      { return redisClient }
func SetJWT(m *helpers.JWTManager) { jwtManager = m }
func GetJWT() *helpers.JWTManager  { return jwtManager }

func SetRabbitPub(p *helpers.RabbitPublisher) { rabbitPub = p }
func GetRabbitPub() *helpers.RabbitPublisher  { return rabbitPub }
func SetUserIndex(x *esinfra.UserIndex)       { userIndex = x }
func GetUserIndex() *esinfra.UserIndex        { return userIndex }

// SetMetrics stores the registry served on /metrics and the collector recording into it.
func SetMetrics(reg *prometheus.Registry, c *metrics.Collector) {
	promRegistry = reg
	collector = c
}
func GetPromRegistry() *prometheus.Registry { return promRegistry }
func GetCollector() *metrics.Collector      { return collector }

// Reset clears every singleton.
func Reset() {
	cfg, logger, pgPool, redisClient = nil, nil, nil, nil
	jwtManager, rabbitPub, userIndex = nil, nil, nil
	promRegistry, collector = nil, nil
}
