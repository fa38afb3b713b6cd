// Package s3 exports batch-analysis reports to S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config locates the report bucket.
type Config struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string

	// Static credentials. When empty the default AWS chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// StorageClass is an S3 storage class name such as STANDARD_IA.
	StorageClass string
	UsePathStyle bool
	MaxAttempts  int
	PutTimeout   time.Duration
}

// DefaultConfig returns the settings used when the export section is sparse.
func DefaultConfig() *Config {
	return &Config{
		Region:       "us-east-1",
		Bucket:       "triage-reports",
		Prefix:       "reports",
		StorageClass: string(types.StorageClassStandard),
		MaxAttempts:  3,
		PutTimeout:   time.Minute,
	}
}

// Validate reports every missing or unknown setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("access key id and secret access key must be set together"))
	}
	if c.StorageClass != "" && !slices.Contains(types.StorageClass("").Values(), c.storageClass()) {
		errs = append(errs, fmt.Errorf("unknown storage class %q", c.StorageClass))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("s3 config: %w", err)
	}
	return nil
}

func (c *Config) storageClass() types.StorageClass {
	return types.StorageClass(strings.ToUpper(c.StorageClass))
}

// PutAPI is the part of the S3 client a Bucket writes through.
type PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is one write into the bucket. Key is relative to the prefix.
type Object struct {
	Key             string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// BucketStats counts writes since the bucket was opened.
type BucketStats struct {
	Objects int64
	Bytes   int64
	Failed  int64
}

// Bucket writes objects under a fixed key prefix.
type Bucket struct {
	api    PutAPI
	name   string
	prefix string
	class  types.StorageClass
	limit  time.Duration
	logger *slog.Logger

	objects atomic.Int64
	bytes   atomic.Int64
	failed  atomic.Int64
}

// OpenBucket builds an S3 client from the AWS config chain, applying the
// static credentials and endpoint override in cfg when present.
func OpenBucket(ctx context.Context, cfg *Config, logger *slog.Logger) (*Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.MaxAttempts > 0 {
		loaders = append(loaders, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewBucket(api, cfg, logger), nil
}

// NewBucket wraps an existing client.
func NewBucket(api PutAPI, cfg *Config, logger *slog.Logger) *Bucket {
	if logger == nil {
		logger = slog.Default()
	}
	class := cfg.storageClass()
	if class == "" {
		class = types.StorageClassStandard
	}
	return &Bucket{
		api:    api,
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		class:  class,
		limit:  cfg.PutTimeout,
		logger: logger.With("bucket", cfg.Bucket),
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Key joins the bucket prefix and a relative key.
func (b *Bucket) Key(rel string) string {
	return path.Join(b.prefix, strings.TrimPrefix(rel, "/"))
}

// Put writes obj and returns the full key it was stored under.
func (b *Bucket) Put(ctx context.Context, obj Object) (string, error) {
	key := b.Key(obj.Key)
	if b.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.limit)
		defer cancel()
	}

	in := &s3.PutObjectInput{
		Bucket:            aws.String(b.name),
		Key:               aws.String(key),
		Body:              bytes.NewReader(obj.Body),
		ContentLength:     aws.Int64(int64(len(obj.Body))),
		StorageClass:      b.class,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		Metadata:          obj.Metadata,
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if obj.ContentEncoding != "" {
		in.ContentEncoding = aws.String(obj.ContentEncoding)
	}

	if _, err := b.api.PutObject(ctx, in); err != nil {
		b.failed.Add(1)
		return "", fmt.Errorf("s3: put %s: %w", key, err)
	}
	b.objects.Add(1)
	b.bytes.Add(int64(len(obj.Body)))
	b.logger.Debug("object stored", "key", key, "bytes", len(obj.Body))
	return key, nil
}

// Stats returns a snapshot of the write counters.
func (b *Bucket) Stats() BucketStats {
	return BucketStats{
		Objects: b.objects.Load(),
		Bytes:   b.bytes.Load(),
		Failed:  b.failed.Load(),
	}
}
