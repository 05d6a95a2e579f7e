// Package snapshot materializes change sets into durable objects so
// downstream consumers can replay a run without talking to the source
// database. Encoders are format plugins; the service owns naming and
// upload.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Meta identifies the run a snapshot belongs to.
type Meta struct {
	Datasource string
	Table      string
	KeyColumn  string
	RunID      string
	Timestamp  time.Time
}

// Encoder renders a ChangeSet into a byte payload for a single format.
type Encoder interface {
	Format() string
	ContentType() string
	Extension() string
	Encode(cs *diff.ChangeSet, meta Meta) ([]byte, error)
}

// Uploader is the slice of object storage the service needs.
type Uploader interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// Service writes one object per non-empty change set.
type Service struct {
	uploader Uploader
	encoders map[string]Encoder
}

func NewService(uploader Uploader) *Service {
	s := &Service{
		uploader: uploader,
		encoders: make(map[string]Encoder),
	}
	for _, enc := range []Encoder{NewJSONEncoder(), NewParquetEncoder()} {
		s.encoders[enc.Format()] = enc
	}
	return s
}

// Write encodes and uploads cs in the given format. Empty change sets
// are skipped so a quiet table produces no objects.
func (s *Service) Write(ctx context.Context, cs *diff.ChangeSet, meta Meta, format string) (string, error) {
	if cs.Empty() {
		return "", nil
	}

	enc, ok := s.encoders[format]
	if !ok {
		return "", fmt.Errorf("unsupported snapshot format: %s", format)
	}

	body, err := enc.Encode(cs, meta)
	if err != nil {
		return "", fmt.Errorf("encoding %s snapshot for %s.%s: %w", format, meta.Datasource, meta.Table, err)
	}

	key := objectKey(meta, enc.Extension())
	if err := s.uploader.PutObject(ctx, key, body, enc.ContentType()); err != nil {
		return "", fmt.Errorf("uploading snapshot %s: %w", key, err)
	}

	logging.GetLogger().Debug("Wrote snapshot",
		"table", meta.Table, "format", format, "key", key, "bytes", len(body))
	return key, nil
}

func objectKey(meta Meta, ext string) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.%s",
		meta.Datasource, meta.Table, meta.Timestamp.UTC().Format("20060102T150405Z"), ext)
}
