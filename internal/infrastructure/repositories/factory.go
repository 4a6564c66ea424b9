package repositories

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/repositories/memory"
	redisrepo "peercall/internal/infrastructure/repositories/redis"
	"peercall/pkg/config"
)

// Factory selects the signaling store backend. A failed Redis connection
// falls back to the in-process store so a lone peer can still run; two peers
// on separate hosts need the shared backend to see each other.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{
		useRedis: cfg.Store.Backend == "redis",
		logger:   logger,
	}

	if factory.useRedis {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	if factory.useRedis {
		logger.Info("using Redis signaling store")
	} else {
		logger.Info("using in-memory signaling store")
	}
	return factory, nil
}

func (f *Factory) CreateCallRepository() ports.CallRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewCallRepository(f.redisClient, f.logger)
	}
	return memory.NewCallRepository()
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
