package cache

import (
	"bytes"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

func TestKeyDependsOnEveryPart(t *testing.T) {
	src := []byte("source-bytes")
	base := Key(src, "300x250", "image/jpeg", "50000")

	if again := Key(src, "300x250", "image/jpeg", "50000"); again != base {
		t.Fatalf("expected stable key, got %s and %s", base, again)
	}
	variants := []string{
		Key([]byte("other-bytes"), "300x250", "image/jpeg", "50000"),
		Key(src, "300x251", "image/jpeg", "50000"),
		Key(src, "300x250", "image/webp", "50000"),
		Key(src, "300x250image/jpeg", "50000"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collided with base key %s", i, base)
		}
	}
	if len(base) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", base)
	}
}

func TestEntryEncoding(t *testing.T) {
	artifact := domain.EncodedArtifact{
		Bytes:     []byte{0xff, 0xd8, 0x00, 0xff, 0xd9},
		MimeType:  domain.MimeJPEG,
		Quality:   0.67,
		SizeBytes: 5,
		Width:     300,
		Height:    250,
		Attempts:  34,
	}

	fields, err := encodeEntry(artifact)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Redis hands hash values back as strings.
	stored := map[string]string{
		fieldBytes: string(fields[fieldBytes].([]byte)),
		fieldMeta:  string(fields[fieldMeta].([]byte)),
	}
	got, err := decodeEntry(stored)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Bytes, artifact.Bytes) || got.Quality != 0.67 || got.Attempts != 34 {
		t.Fatalf("unexpected artifact: %+v", got)
	}

	stored[fieldBytes] = "\xff"
	if _, err := decodeEntry(stored); err == nil {
		t.Fatal("expected truncated entry to be rejected")
	}
}

func TestNewArtifactCacheValidates(t *testing.T) {
	if _, err := NewArtifactCache(nil, 1, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewArtifactCache(client, 0, ""); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
