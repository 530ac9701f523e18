// Package artifact fetches trained model exports from S3 or a local
// directory.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const maxArtifactBytes = 64 << 20

// ErrNotFound means the artifact does not exist. Callers treat it as "no
// trained model" rather than a failure.
var ErrNotFound = errors.New("artifact: not found")

// Source reads an artifact by name.
type Source interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// s3API is the minimal S3 interface required by S3Source.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads artifacts from objects under a bucket prefix.
type S3Source struct {
	api    s3API
	bucket string
	prefix string
}

func NewS3Source(api s3API, bucket, prefix string) (*S3Source, error) {
	if api == nil {
		return nil, errors.New("artifact: s3 api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("artifact: bucket must not be empty")
	}
	return &S3Source{api: api, bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

func (s *S3Source) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Source) Load(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("artifact: name is required")
	}
	key := s.key(name)

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("artifact: get s3://%s/%s: %w", s.bucket, key, err)
	}
	if out == nil || out.Body == nil {
		return nil, fmt.Errorf("artifact: s3://%s/%s has no body", s.bucket, key)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("artifact: read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// DirSource reads artifacts from files in a directory.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) (*DirSource, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifact: directory must not be empty")
	}
	return &DirSource{dir: dir}, nil
}

func (d *DirSource) Load(_ context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("artifact: name is required")
	}
	path := filepath.Join(d.dir, filepath.Base(name))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return data, nil
}
