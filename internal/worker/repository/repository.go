package repository

import (
	"context"
	"strings"
	"sync"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/pkg/evm_client"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var once sync.Once
var r *repositoryImpl

func New(cfg config.Config, logger *zap.Logger) Repository {
	once.Do(func() {
		r = &repositoryImpl{
			cfg:    cfg,
			logger: logger,
		}
		r.init()
	})
	return r
}

type repositoryImpl struct {
	cfg       config.Config
	logger    *zap.Logger
	mainRdb   *redis.Client
	priceRdb  *redis.Client
	evmClient *ethclient.Client
}

func (r *repositoryImpl) init() {
	// redis 可选，地址为空时只用本地缓存
	if strings.TrimSpace(r.cfg.Redis.Address) != "" {
		r.mainRdb = redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Address,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
			PoolSize: 20,
		})
		if err := r.mainRdb.Ping(context.Background()).Err(); err != nil {
			r.logger.Warn("failed to connect to redis, continue", zap.Error(err))
		}

		r.priceRdb = redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Address,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DBPrice,
		})
		if err := r.priceRdb.Ping(context.Background()).Err(); err != nil {
			r.logger.Warn("failed to connect to price redis, continue", zap.Error(err))
		}
	} else {
		r.logger.Info("redis address empty, skip redis initialization")
	}

	// 初始化rpc client
	r.evmClient = evm_client.Init(r.cfg.Chain.RpcUrl, r.cfg.Chain.ChainID)
}

func (r *repositoryImpl) GetMainRDB() *redis.Client {
	return r.mainRdb
}

func (r *repositoryImpl) GetPriceRDB() *redis.Client {
	return r.priceRdb
}

func (r *repositoryImpl) GetEvmClient() *ethclient.Client {
	return r.evmClient
}

func (r *repositoryImpl) Close() error {
	if r.mainRdb != nil {
		r.mainRdb.Close()
	}
	if r.priceRdb != nil {
		r.priceRdb.Close()
	}
	if r.evmClient != nil {
		r.evmClient.Close()
	}
	return nil
}
