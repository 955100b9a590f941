package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
)

// ObjectStore is the subset of the storage client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string, limit int64) ([]byte, error)
	PutArtifact(ctx context.Context, objectKey string, data []byte, contentType string, meta map[string]string) error
}

type ObjectStoreFetcher struct {
	Storage  ObjectStore
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, artifact domain.EncodedArtifact) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := path.Join(defaultOutputPrefix(e.OutputPrefix), ArtifactName(req.JobID, artifact))
	meta := map[string]string{
		"quality":  strconv.FormatFloat(artifact.Quality, 'f', 2, 64),
		"attempts": strconv.Itoa(artifact.Attempts),
		"width":    strconv.Itoa(artifact.Width),
		"height":   strconv.Itoa(artifact.Height),
	}
	if err := e.Storage.PutArtifact(ctx, objectKey, artifact.Bytes, artifact.MimeType, meta); err != nil {
		return "", err
	}
	return objectKey, nil
}

// NewObjectStoreProcessor reads sources from and writes artifacts to store.
func NewObjectStoreProcessor(store ObjectStore, outputPrefix string, maxSourceBytes int64, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: store, MaxBytes: maxSourceBytes},
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
		opts...,
	)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
