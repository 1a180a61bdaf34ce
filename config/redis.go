package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int

	// ClusterAddrs switches session storage to a cluster client when set.
	ClusterAddrs []string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c RedisConfig) poolSize() int {
	if c.PoolSize <= 0 {
		return 10
	}
	return c.PoolSize
}

// NewRedisClient connects to the single node. The pub/sub channel always uses
// it, since pattern subscriptions do not span a cluster.
func NewRedisClient(config RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.poolSize(),
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	mustPing(rdb, "Redis "+config.Addr())
	return rdb
}

// NewSessionRedis returns the client the session record is persisted with.
func NewSessionRedis(config RedisConfig) redis.UniversalClient {
	if len(config.ClusterAddrs) == 0 {
		return NewRedisClient(config)
	}
	rdb := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        config.ClusterAddrs,
		Password:     config.Password,
		PoolSize:     config.poolSize(),
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	mustPing(rdb, "Redis Cluster")
	return rdb
}

func mustPing(rdb redis.UniversalClient, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pong, err := rdb.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", name, err)
	}
	log.Printf("%s connected: %s", name, pong)
}
