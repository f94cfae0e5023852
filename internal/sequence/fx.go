package sequence

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/smallbiznis/clinicbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("sequence",
	fx.Provide(NewSequencer),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
}

// NewSequencer selects the counter backend from SEQUENCE_BACKEND.
func NewSequencer(p Params) Sequencer {
	if strings.EqualFold(p.Config.SequenceBackend, "redis") {
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.Redis.Addr,
			Password: p.Config.Redis.Password,
			DB:       p.Config.Redis.DB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		p.Log.Info("using redis sequencer", zap.String("addr", p.Config.Redis.Addr))
		return NewRedisSequencer(client)
	}
	return NewDBSequencer(p.DB, p.Log, p.Clock)
}
