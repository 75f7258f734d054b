// Package ros3 implements a read-only driver backed by Amazon S3 or any
// S3-compatible object store (MinIO, Localstack, Cubbit DS3, etc.).
//
// The container path is used as the object key, optionally under a
// configured key prefix. Reads are served with S3 byte-range requests so
// opening a large container never downloads the whole object; the object
// size is captured once at open time with a HEAD request.
//
// The driver is strictly read-only: open flags requesting write or create
// capability are rejected, and write methods on an open file fail with a
// permission error.
//
// File methods satisfy io.ReaderAt and therefore take no context, so S3
// calls issued after open use the background context. Cancellation and
// timeouts apply to Open, Exists and Writable, which take the caller's
// context directly.
package ros3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
)

// Config contains ros3 driver options.
type Config struct {
	// Bucket is the S3 bucket holding the containers (required).
	Bucket string `mapstructure:"bucket"`

	// KeyPrefix is an optional prefix prepended to every object key.
	// Example: "containers/" maps path "data.hv5" to "containers/data.hv5".
	KeyPrefix string `mapstructure:"key_prefix"`

	// Region is the AWS region (required).
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint URL (for MinIO, Localstack, etc.).
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey are static credentials. When empty
	// the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the number of attempts for transient S3 failures
	// (default: 10).
	MaxRetries int `mapstructure:"max_retries"`
}

// Driver is a read-only S3-backed driver.
//
// Thread Safety:
// The S3 client is safe for concurrent use, so Driver methods may be called
// from multiple goroutines.
type Driver struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// New builds a ros3 driver from per-open options (driver.Factory).
//
// This constructs the S3 client and verifies bucket access, so it needs
// network connectivity and valid credentials up front.
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid ros3 options: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds a ros3 driver from a typed config.
func NewWithConfig(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ros3 driver requires 'bucket' option")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("ros3 driver requires 'region' option")
	}

	client, err := buildClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(ctx, client, cfg.Bucket, cfg.KeyPrefix)
}

// NewWithClient builds a ros3 driver around an existing S3 client. The
// bucket must already exist; access is verified with a HEAD request.
func NewWithClient(ctx context.Context, client *s3.Client, bucket, keyPrefix string) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", bucket, err)
	}

	return &Driver{
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}, nil
}

// buildClient assembles the S3 client from the config: region, optional
// custom endpoint, optional static credentials and a standard retryer.
func buildClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	// Set custom endpoint if provided (for MinIO, Localstack, etc.)
	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Set credentials if provided, otherwise use default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10 // Default: 10 attempts
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries // Retry for transient errors (502, 503, timeouts, etc.)
		})
	}))

	loaded, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(loaded, func(o *s3.Options) {
		// Force path-style addressing for compatibility with MinIO/Localstack
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "ros3"
}

// Open implements driver.Driver. Only read-only flags are accepted.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !flag.IsReadOnly() || flag.Creates() {
		return nil, fmt.Errorf("ros3 driver is read-only: %w", os.ErrPermission)
	}

	key := d.objectKey(path)

	result, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}

	return &ros3File{
		client: d.client,
		bucket: d.bucket,
		key:    key,
		size:   size,
	}, nil
}

// Exists implements driver.Driver.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Writable implements driver.Driver. S3 containers are never writable
// through this driver.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, nil
}

// objectKey maps a container path to the full S3 object key.
func (d *Driver) objectKey(path string) string {
	key := strings.TrimPrefix(path, "/")
	if d.keyPrefix != "" {
		key = strings.TrimSuffix(d.keyPrefix, "/") + "/" + key
	}
	return key
}

// isNotFound reports whether an S3 error means the object does not exist.
// GetObject surfaces *types.NoSuchKey while HeadObject surfaces
// *types.NotFound, so both are checked.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// ros3File serves reads with S3 byte-range requests. The size is fixed at
// open time; concurrent remote mutation of the object is not supported.
type ros3File struct {
	client *s3.Client
	bucket string
	key    string
	size   int64
	closed bool
}

// ReadAt implements io.ReaderAt using an S3 range request.
func (f *ros3File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= f.size {
		return 0, io.EOF
	}

	// S3 ranges are inclusive, so end = off + len(p) - 1
	end := off + int64(len(p)) - 1
	rangeStr := fmt.Sprintf("bytes=%d-%d", off, end)

	result, err := f.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(rangeStr),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("object %s: %w", f.key, os.ErrNotExist)
		}
		// S3 answers InvalidRange when the offset is at or past the end
		if strings.Contains(err.Error(), "InvalidRange") {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	n, err := io.ReadFull(result.Body, p)
	if err == io.ErrUnexpectedEOF {
		// Object shorter than the requested range
		return n, io.EOF
	}
	return n, err
}

// WriteAt implements io.WriterAt. Always fails: the driver is read-only.
func (f *ros3File) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("ros3 driver is read-only: %w", os.ErrPermission)
}

// Size implements driver.File.
func (f *ros3File) Size() (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.size, nil
}

// Truncate implements driver.File. Always fails: the driver is read-only.
func (f *ros3File) Truncate(size int64) error {
	return fmt.Errorf("ros3 driver is read-only: %w", os.ErrPermission)
}

// Sync implements driver.File. Nothing is buffered, so this is a no-op.
func (f *ros3File) Sync() error {
	return nil
}

// Close implements driver.File. Closing twice is harmless.
func (f *ros3File) Close() error {
	f.closed = true
	return nil
}
