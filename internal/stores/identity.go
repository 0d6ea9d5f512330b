package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const identityRecordVersionV1 = 1

// ErrCacheUnavailable wraps backend failures of an identity cache.
var ErrCacheUnavailable = errors.New("identity cache unavailable")

// Identity is the cached view of a stored identity, password hash included.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail is the cache key form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RedisIdentityCache caches identities under two keys, by id and by email.
type RedisIdentityCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisIdentityCache returns a cache with entries living for ttl. An empty
// prefix defaults to "idc".
func NewRedisIdentityCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdentityCache {
	if prefix == "" {
		prefix = "idc"
	}
	return &RedisIdentityCache{redis: client, prefix: prefix, ttl: ttl}
}

func (c *RedisIdentityCache) idKey(id int64) string {
	return c.prefix + ":id:" + strconv.FormatInt(id, 10)
}

func (c *RedisIdentityCache) emailKey(email string) string {
	return c.prefix + ":email:" + NormalizeEmail(email)
}

func (c *RedisIdentityCache) GetByID(ctx context.Context, id int64) (Identity, bool, error) {
	return c.get(ctx, c.idKey(id))
}

func (c *RedisIdentityCache) GetByEmail(ctx context.Context, email string) (Identity, bool, error) {
	return c.get(ctx, c.emailKey(email))
}

func (c *RedisIdentityCache) get(ctx context.Context, key string) (Identity, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	ident, err := decodeIdentity(data)
	if err != nil {
		// Unreadable entries are treated as misses and dropped.
		_ = c.redis.Del(ctx, key).Err()
		return Identity{}, false, nil
	}
	return ident, true, nil
}

// Put stores ident under both keys.
func (c *RedisIdentityCache) Put(ctx context.Context, ident Identity) error {
	encoded, err := encodeIdentity(ident)
	if err != nil {
		return err
	}
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.idKey(ident.ID), encoded, c.ttl)
		pipe.Set(ctx, c.emailKey(ident.Email), encoded, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate removes both keys of an identity.
func (c *RedisIdentityCache) Invalidate(ctx context.Context, id int64, email string) error {
	keys := []string{c.idKey(id)}
	if email != "" {
		keys = append(keys, c.emailKey(email))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func encodeIdentity(ident Identity) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(identityRecordVersionV1)
	for _, v := range []int64{ident.ID, ident.CreatedAt.UnixNano(), ident.UpdatedAt.UnixNano()} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{ident.Email, ident.PasswordHash} {
		if len(s) > 65535 {
			return nil, errors.New("identity record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeIdentity(data []byte) (Identity, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Identity{}, err
	}
	if version != identityRecordVersionV1 {
		return Identity{}, errors.New("invalid identity record version")
	}

	var id, created, updated int64
	for _, dst := range []*int64{&id, &created, &updated} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return Identity{}, err
		}
	}

	fields := make([]string, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return Identity{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return Identity{}, err
		}
		fields[i] = string(b)
	}

	return Identity{
		ID:           id,
		Email:        fields[0],
		PasswordHash: fields[1],
		CreatedAt:    time.Unix(0, created).UTC(),
		UpdatedAt:    time.Unix(0, updated).UTC(),
	}, nil
}
