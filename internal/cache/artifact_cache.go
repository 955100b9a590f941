// Package cache memoizes encoded crops in Redis, keyed by a hash of the
// source bytes and every parameter that affects the output.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldBytes = "bytes"
	fieldMeta  = "meta"
)

type ArtifactCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

func NewArtifactCache(client redis.UniversalClient, ttl time.Duration, keyPrefix string) (*ArtifactCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "cropflow:artifact"
	}
	return &ArtifactCache{client: client, ttl: ttl, keyPrefix: keyPrefix}, nil
}

// Key fingerprints a crop request. Parts are NUL-separated.
func Key(source []byte, parts ...string) string {
	h := xxhash.New()
	_, _ = h.Write(source)
	for _, p := range parts {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(p)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c *ArtifactCache) Get(ctx context.Context, key string) (domain.EncodedArtifact, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.redisKey(key)).Result()
	if err != nil {
		return domain.EncodedArtifact{}, false, fmt.Errorf("read cached artifact: %w", err)
	}
	if len(fields) == 0 {
		return domain.EncodedArtifact{}, false, nil
	}

	artifact, err := decodeEntry(fields)
	if err != nil {
		return domain.EncodedArtifact{}, false, err
	}
	return artifact, true, nil
}

func (c *ArtifactCache) Put(ctx context.Context, key string, artifact domain.EncodedArtifact) error {
	fields, err := encodeEntry(artifact)
	if err != nil {
		return err
	}

	redisKey := c.redisKey(key)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, fields)
		pipe.Expire(ctx, redisKey, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write cached artifact: %w", err)
	}
	return nil
}

func (c *ArtifactCache) redisKey(key string) string {
	return c.keyPrefix + ":" + key
}

func encodeEntry(artifact domain.EncodedArtifact) (map[string]any, error) {
	meta, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact metadata: %w", err)
	}
	return map[string]any{
		fieldBytes: artifact.Bytes,
		fieldMeta:  meta,
	}, nil
}

func decodeEntry(fields map[string]string) (domain.EncodedArtifact, error) {
	var artifact domain.EncodedArtifact
	if err := json.Unmarshal([]byte(fields[fieldMeta]), &artifact); err != nil {
		return domain.EncodedArtifact{}, fmt.Errorf("unmarshal artifact metadata: %w", err)
	}
	artifact.Bytes = []byte(fields[fieldBytes])
	if len(artifact.Bytes) != artifact.SizeBytes {
		return domain.EncodedArtifact{}, fmt.Errorf("cached artifact is truncated: %d of %d bytes", len(artifact.Bytes), artifact.SizeBytes)
	}
	return artifact, nil
}
