package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript advances the last consumed counter only if the presented
// counter is strictly newer. Returns 1 on success, 0 on replay.
const consumeScript = `
local last = tonumber(redis.call("GET", KEYS[1]) or "-1")
local counter = tonumber(ARGV[1])
if counter <= last then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`

var consumeLua = redis.NewScript(consumeScript)

// replayGuard remembers the last consumed counter per (user, purpose).
type replayGuard struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func replayKey(purpose Purpose, userID string) string {
	return "ra:otpused:" + string(purpose) + ":" + userID
}

// consume atomically marks counter used. false means it (or a later
// counter) was already consumed.
func (g *replayGuard) consume(ctx context.Context, purpose Purpose, userID string, counter int64) (bool, error) {
	res, err := consumeLua.Run(ctx, g.redis,
		[]string{replayKey(purpose, userID)},
		strconv.FormatInt(counter, 10),
		g.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

// last returns the last consumed counter, or -1.
func (g *replayGuard) last(ctx context.Context, purpose Purpose, userID string) (int64, error) {
	v, err := g.redis.Get(ctx, replayKey(purpose, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}
