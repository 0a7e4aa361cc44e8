// Package providers implements the external data lookups the rules draw
// on: the shared denylist, the wallet age oracle and market context.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
)

const denylistKey = "chimerascan:denylist"

// LocalDenylist is the database-backed blacklist surface.
type LocalDenylist interface {
	IsDenylisted(ctx context.Context, address string) (bool, error)
}

// Denylist answers denylist membership from the shared Redis set, layered
// over the local database list. Redis outages degrade to the local list.
type Denylist struct {
	client *redis.Client
	local  LocalDenylist
	logger *zap.SugaredLogger
}

// NewDenylist builds the provider. A nil client disables the Redis layer.
func NewDenylist(cfg config.RedisConfig, local LocalDenylist, logger *zap.SugaredLogger) *Denylist {
	var client *redis.Client
	if cfg.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return &Denylist{client: client, local: local, logger: logger}
}

// NewDenylistWithClient wires an existing client, used by tests.
func NewDenylistWithClient(client *redis.Client, local LocalDenylist, logger *zap.SugaredLogger) *Denylist {
	return &Denylist{client: client, local: local, logger: logger}
}

// IsDenylisted checks the shared set first, then the local list. A Redis
// failure is logged and the local answer stands alone.
func (d *Denylist) IsDenylisted(ctx context.Context, address string) (bool, error) {
	addr := strings.ToLower(address)
	if d.client != nil {
		listed, err := d.client.SIsMember(ctx, denylistKey, addr).Result()
		if err != nil {
			if d.logger != nil {
				d.logger.Warnw("redis denylist unavailable, using local list only", "error", err)
			}
		} else if listed {
			return true, nil
		}
	}
	if d.local == nil {
		return false, nil
	}
	return d.local.IsDenylisted(ctx, addr)
}

// Publish adds an address to the shared set so other scanner instances
// see it immediately.
func (d *Denylist) Publish(ctx context.Context, address string) error {
	if d.client == nil {
		return nil
	}
	if err := d.client.SAdd(ctx, denylistKey, strings.ToLower(address)).Err(); err != nil {
		return fmt.Errorf("publish denylist entry: %w", err)
	}
	return nil
}

// Retract removes an address from the shared set.
func (d *Denylist) Retract(ctx context.Context, address string) error {
	if d.client == nil {
		return nil
	}
	if err := d.client.SRem(ctx, denylistKey, strings.ToLower(address)).Err(); err != nil {
		return fmt.Errorf("retract denylist entry: %w", err)
	}
	return nil
}
