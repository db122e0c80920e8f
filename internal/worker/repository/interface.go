package repository

import (
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
)

type RedisClient = *redis.Client

type Repository interface {
	GetMainRDB() RedisClient
	GetPriceRDB() RedisClient
	GetEvmClient() *ethclient.Client
	Close() error
}
