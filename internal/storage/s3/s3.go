// Package s3 provides an S3/MinIO bucket as a storage.Source.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/metrics"
	"github.com/fruitsalade/fruitstatic/internal/retry"
	"github.com/fruitsalade/fruitstatic/internal/storage"
)

// Config holds S3 source settings.
type Config struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	Region    string `json:"region" mapstructure:"region"`
}

// Source serves objects below a prefix of one bucket.
type Source struct {
	client *s3.Client
	bucket string
	prefix string // "" or ends with "/"
	retry  retry.Config
}

// New creates an S3 source and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	rc := retry.DefaultConfig()
	rc.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("retrying S3 call",
			zap.String("bucket", cfg.Bucket),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	src := &Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		retry:  rc,
	}

	if err := src.checkBucket(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (s *Source) checkBucket(ctx context.Context) error {
	start := time.Now()
	err := retry.Do(ctx, s.retry, func() error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return classify(err)
	})
	metrics.RecordOriginOperation("s3", "head_bucket", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}

// Key maps a URL path to an object key below the prefix.
func (s *Source) Key(urlPath string) string {
	return s.prefix + strings.TrimPrefix(urlPath, "/")
}

// Walk lists every object below the prefix, one page at a time.
// Directory markers and dot-named objects are skipped.
func (s *Source) Walk(ctx context.Context, fn func(storage.Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		start := time.Now()
		page, err := retry.DoWithResult(ctx, s.retry, func() (*s3.ListObjectsV2Output, error) {
			out, err := paginator.NextPage(ctx)
			return out, classify(err)
		})
		metrics.RecordOriginOperation("s3", "list_objects", time.Since(start), err == nil)
		if err != nil {
			return fmt.Errorf("list %s/%s: %w", s.bucket, s.prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !indexable(key) {
				continue
			}
			o := storage.Object{
				Key:     key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			}
			if err := fn(o); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexable(key string) bool {
	return key != "" && !strings.HasSuffix(key, "/") && !storage.Hidden(path.Base(key))
}

// Stat issues a HeadObject for key.
func (s *Source) Stat(ctx context.Context, key string) (storage.Object, error) {
	if !indexable(key) {
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, storage.ErrNotIndexable)
	}

	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordOriginOperation("s3", "head_object", time.Since(start), true)
			return storage.Object{}, fmt.Errorf("stat %s: %w", key, fs.ErrNotExist)
		}
		metrics.RecordOriginOperation("s3", "head_object", time.Since(start), false)
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	metrics.RecordOriginOperation("s3", "head_object", time.Since(start), true)

	return storage.Object{
		Key:     key,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

// Open issues a ranged GetObject. The response body streams from the origin.
func (s *Source) Open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if r := rangeHeader(offset, length); r != "" {
		input.Range = aws.String(r)
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		metrics.RecordOriginOperation("s3", "get_object", time.Since(start), false)
		if isNotFound(err) {
			return nil, fmt.Errorf("get object %s: %w", key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	metrics.RecordOriginOperation("s3", "get_object", time.Since(start), true)
	logging.Debug("S3 get object", zap.String("key", key), zap.Int64("offset", offset), zap.Int64("length", length))

	return out.Body, nil
}

func rangeHeader(offset, length int64) string {
	switch {
	case length > 0:
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	case offset > 0:
		return fmt.Sprintf("bytes=%d-", offset)
	default:
		return ""
	}
}

// Type returns "s3".
func (s *Source) Type() string { return "s3" }

// Close is a no-op for S3 sources.
func (s *Source) Close() error { return nil }

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// classify marks throttling, server-side and transport failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code >= 500 || code == http.StatusTooManyRequests {
			return retry.Retryable(err)
		}
		return err
	}
	return retry.Retryable(err)
}
