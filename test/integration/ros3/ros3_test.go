//go:build integration

package ros3_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/hdfive/pkg/config"
	"github.com/marmos91/hdfive/pkg/engine"
	"github.com/marmos91/hdfive/pkg/engine/hv5"
	"github.com/marmos91/hdfive/pkg/file"
)

// setupTestS3 creates an S3 client and test bucket for integration tests.
//
// It connects to Localstack (or another S3-compatible endpoint) and creates
// a test bucket that is removed again by the returned cleanup function.
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, string, func()) {
	t.Helper()
	ctx := context.Background()

	// Get Localstack endpoint from environment or use default
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	// Load AWS config with Localstack endpoint
	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", // AccessKeyID
			"test", // SecretAccessKey
			"",     // SessionToken
		)),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	// Create S3 client with path-style URLs (required for Localstack)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	// Create test bucket
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	cleanup := func() {
		// List and delete all objects first
		listResp, _ := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}

		// Delete bucket
		client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	}

	return client, endpoint, cleanup
}

// buildContainer creates a container on the local filesystem and returns
// its raw bytes, ready to be uploaded as an S3 object.
func buildContainer(t *testing.T, eng engine.Engine, payload []byte) []byte {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "upload.hv5")

	f, err := file.Open(ctx, eng, path, "w", nil)
	if err != nil {
		t.Fatalf("Failed to create local container: %v", err)
	}

	run, err := f.CreateGroup("run1")
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	if err := run.SetAttr("source", file.StringValue("integration")); err != nil {
		t.Fatalf("Failed to set attribute: %v", err)
	}

	d, err := run.CreateDataset("spectrum", file.DatasetSpec{Dtype: "f8", Shape: []uint64{8}})
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if err := d.SetBytes(payload); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}

	if err := f.Close(ctx); err != nil {
		t.Fatalf("Failed to close local container: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read local container: %v", err)
	}
	return raw
}

// TestRos3Containers_Integration opens containers stored on a real
// S3-compatible service (Localstack) through the whole stack: file layer,
// engine and ros3 driver.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT set)
//   - Run with: go test -tags=integration ./test/integration/ros3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestRos3Containers_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create bucket and upload a container built locally
	// ========================================================================

	bucketName := "hdfive-ros3-test"
	client, endpoint, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	reg, err := config.DefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	eng := hv5.New(reg)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	raw := buildContainer(t, eng, payload)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("containers/experiment.hv5"),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		t.Fatalf("Failed to upload container: %v", err)
	}

	ros3Options := func() *file.OpenOptions {
		opts := file.NewOpenOptions()
		opts.Driver = "ros3"
		opts.DriverOptions = map[string]any{
			"bucket":            bucketName,
			"key_prefix":        "containers/",
			"region":            "us-east-1",
			"endpoint":          endpoint,
			"access_key_id":     "test",
			"secret_access_key": "test",
		}
		return opts
	}

	// ========================================================================
	// Test: Open and read back over byte-range requests
	// ========================================================================

	t.Run("OpenReadOnly", func(t *testing.T) {
		f, err := file.Open(ctx, eng, "experiment.hv5", "r", ros3Options())
		if err != nil {
			t.Fatalf("Failed to open container from S3: %v", err)
		}
		defer f.Close(ctx)

		if f.Mode() != "r" {
			t.Errorf("Expected mode 'r', got %q", f.Mode())
		}

		run, err := f.OpenGroup("run1")
		if err != nil {
			t.Fatalf("Failed to open group: %v", err)
		}
		attr, err := run.Attr("source")
		if err != nil {
			t.Fatalf("Failed to read attribute: %v", err)
		}
		if attr.Str != "integration" {
			t.Errorf("Expected source 'integration', got %q", attr.Str)
		}

		d, err := run.OpenDataset("spectrum")
		if err != nil {
			t.Fatalf("Failed to open dataset: %v", err)
		}
		got, err := d.Bytes()
		if err != nil {
			t.Fatalf("Failed to read dataset: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Error("Dataset bytes differ from the uploaded container")
		}
	})

	// ========================================================================
	// Test: Default mode falls back to read-only
	// ========================================================================

	t.Run("DefaultModeReadOnly", func(t *testing.T) {
		// The write probe always fails on ros3, so the default mode opens
		// the container read-only regardless of the caller's privileges.
		f, err := file.Open(ctx, eng, "experiment.hv5", "", ros3Options())
		if err != nil {
			t.Fatalf("Failed to open container from S3: %v", err)
		}
		defer f.Close(ctx)

		if f.Mode() != "r" {
			t.Errorf("Expected mode 'r', got %q", f.Mode())
		}
	})

	// ========================================================================
	// Test: Write capability is refused
	// ========================================================================

	t.Run("ReadWriteRefused", func(t *testing.T) {
		_, err := file.Open(ctx, eng, "experiment.hv5", "r+", ros3Options())
		if err == nil {
			t.Fatal("Expected error opening read-write on ros3")
		}
		if !file.IsKind(err, file.KindPermission) {
			t.Errorf("Expected permission error, got: %v", err)
		}
	})

	t.Run("CreateRefused", func(t *testing.T) {
		_, err := file.Open(ctx, eng, "fresh.hv5", "w", ros3Options())
		if err == nil {
			t.Fatal("Expected error creating a container on ros3")
		}
		if !file.IsKind(err, file.KindPermission) {
			t.Errorf("Expected permission error, got: %v", err)
		}
	})

	// ========================================================================
	// Test: Missing object key
	// ========================================================================

	t.Run("MissingObject", func(t *testing.T) {
		_, err := file.Open(ctx, eng, "absent.hv5", "r", ros3Options())
		if err == nil {
			t.Fatal("Expected error opening a missing object")
		}
		if !file.IsKind(err, file.KindNotFound) {
			t.Errorf("Expected not-found error, got: %v", err)
		}
	})
}
