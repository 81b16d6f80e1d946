package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leslieo2/depwatch/internal/health"
)

// Redis sends PING to a Redis server.
type Redis struct {
	client *redis.Client
	addr   string
}

func NewRedis(addr, password string, db int, timeout time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:             addr,
		Password:         password,
		DB:               db,
		DialTimeout:      timeout,
		ReadTimeout:      timeout,
		WriteTimeout:     timeout,
		PoolSize:         1,
		MaxRetries:       -1,
		DisableIndentity: true,
	})
	return &Redis{client: client, addr: addr}
}

func (p *Redis) Check(ctx context.Context) (health.Record, error) {
	reply, err := p.client.Ping(ctx).Result()
	if err != nil {
		return health.Record{}, fmt.Errorf("ping %s: %w", p.addr, err)
	}
	return health.Record{Status: health.StatusHealthy, Detail: reply}, nil
}

func (p *Redis) Close() error {
	return p.client.Close()
}
