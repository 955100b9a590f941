package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadLimited(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 100)

	got, err := readLimited(bytes.NewReader(data), "k", 100)
	if err != nil {
		t.Fatalf("expected read at limit to succeed, got %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	if _, err := readLimited(bytes.NewReader(data), "k", 99); !errors.Is(err, ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}

	got, err = readLimited(bytes.NewReader(data), "k", 0)
	if err != nil || len(got) != 100 {
		t.Fatalf("expected unlimited read, got %d bytes err=%v", len(got), err)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
