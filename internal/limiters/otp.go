package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOTPMaxAttempts = 5
	defaultOTPCooldown    = time.Minute
)

var (
	ErrOTPRateLimited = errors.New("otp attempts rate limited")
	ErrOTPUnavailable = errors.New("otp limiter unavailable")
)

// OTPLimiterConfig holds thresholds for failed code attempts per secret.
type OTPLimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// OTPLimiter counts failed validations per OTP secret in a fixed window.
// A nil *OTPLimiter allows everything.
type OTPLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
}

// NewOTPLimiter creates an OTP attempt limiter. Zero-value fields in cfg
// fall back to defaults (5 attempts / 60s).
func NewOTPLimiter(redisClient redis.UniversalClient, cfg OTPLimiterConfig) *OTPLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultOTPMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultOTPCooldown
	}
	return &OTPLimiter{redis: redisClient, maxAttempts: int64(max), cooldown: cd}
}

func (l *OTPLimiter) key(secretID int64) string {
	return "otpa:" + strconv.FormatInt(secretID, 10)
}

// Check returns ErrOTPRateLimited once the failure budget is spent.
func (l *OTPLimiter) Check(ctx context.Context, secretID int64) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(secretID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrOTPRateLimited
	}
	return nil
}

// RecordFailure counts one failed attempt. The window starts at the first
// failure.
func (l *OTPLimiter) RecordFailure(ctx context.Context, secretID int64) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(secretID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(secretID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrOTPRateLimited
	}
	return nil
}

// Reset clears the failure counter after a successful validation.
func (l *OTPLimiter) Reset(ctx context.Context, secretID int64) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(secretID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}
	return nil
}
