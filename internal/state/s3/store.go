// Package s3 implements the state store on S3 or any S3-compatible object
// store such as MinIO. Conditional PutObject (If-Match / If-None-Match)
// provides the compare-and-swap the version contract requires.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Options configures the S3 client. Endpoint and path-style addressing
// are what MinIO deployments need; both are optional against AWS proper.
type Options struct {
	Region   string
	Endpoint string
	Bucket   string
	Prefix   string
}

// Store persists table state as JSON objects in one bucket.
type Store struct {
	client *awss3.Client
	bucket string
	prefix string
}

// New builds a Store using the default AWS credential chain.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 state store requires a bucket")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Store{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// NewWithClient wires an existing client, used by tests with a stubbed API.
func NewWithClient(client *awss3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, datasource, table string) (*state.TableState, error) {
	key := state.ObjectKey(s.prefix, datasource, table)

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, diff.ErrStateNotFound
		}
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}
	return state.Decode(data)
}

func (s *Store) Put(ctx context.Context, datasource, table string, st *state.TableState, expectedVersion int64) error {
	key := state.ObjectKey(s.prefix, datasource, table)
	data, err := state.Encode(st)
	if err != nil {
		return err
	}

	input := &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}

	if expectedVersion == 0 {
		input.IfNoneMatch = aws.String("*")
	} else {
		out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return diff.ErrVersionConflict
			}
			return fmt.Errorf("read current state %s: %w", key, err)
		}
		current, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return fmt.Errorf("read current state %s: %w", key, err)
		}
		cur, err := state.Decode(current)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return diff.ErrVersionConflict
		}
		input.IfMatch = out.ETag
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return diff.ErrVersionConflict
		}
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

// PutObject uploads an arbitrary object, used by the snapshot exporter.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
