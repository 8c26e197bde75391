package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/pario-ai/stagegate/pkg/config"
)

const (
	defaultLockTTL = 2 * time.Second
	defaultRetries = 10
	lockWaitTime   = 50 * time.Millisecond
	connectTimeout = 5 * time.Second
)

// releaseScript deletes the lock only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Valkey is a cross-process Locker backed by a Valkey (or Redis) server.
type Valkey struct {
	client  valkeylib.Client
	prefix  string
	ttl     time.Duration
	retries int
}

// NewValkey connects to the server in cfg and verifies it with a ping.
func NewValkey(cfg config.ValkeyConfig) (*Valkey, error) {
	client, err := valkeylib.NewClient(valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey %s: %w", cfg.Address, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Valkey{client: client, prefix: prefix, ttl: ttl, retries: retries}, nil
}

func (v *Valkey) key(name string) string {
	return v.prefix + name + ":lock"
}

// Lock spins with jittered back-off until the lock is acquired, the retry
// limit is reached or ctx is done. The lock expires after the configured
// TTL even if its holder dies.
func (v *Valkey) Lock(ctx context.Context, name string) (func(), error) {
	key := v.key(name)
	token := uuid.NewString()

	for i := 0; i < v.retries; i++ {
		cmd := v.client.B().Set().Key(key).Value(token).Nx().Px(v.ttl).Build()
		err := v.client.Do(ctx, cmd).Error()
		if err == nil {
			return func() { v.release(key, token) }, nil
		}
		if !valkeylib.IsValkeyNil(err) {
			logrus.Debugf("[LOCK] attempt %d for %s failed: %v", i+1, key, err)
		}

		wait := lockWaitTime + time.Duration(rand.IntN(20))*time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, key, v.retries)
}

func (v *Valkey) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd := v.client.B().Eval().Script(releaseScript).Numkeys(1).Key(key).Arg(token).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("[LOCK] release failed, lock will expire")
	}
}

// Close closes the client connection.
func (v *Valkey) Close() {
	v.client.Close()
}
