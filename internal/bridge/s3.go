package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/peardrive/peardrive/internal/logging"
	"github.com/peardrive/peardrive/internal/metrics"
)

// Config holds bridge connection settings shared by all credentials.
type Config struct {
	Endpoint string
	Region   string
}

// S3Client implements Client against an S3-compatible bridge. Clients are
// built per credential and cached, since every operation is
// credential-keyed.
type S3Client struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*s3.Client
}

// NewS3Client creates a bridge client for the given endpoint.
func NewS3Client(cfg Config) *S3Client {
	return &S3Client{
		cfg:     cfg,
		clients: make(map[string]*s3.Client),
	}
}

func (c *S3Client) clientFor(ctx context.Context, creds Credentials) (*s3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[creds.AccessKey]; ok {
		return client, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               c.cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	c.clients[creds.AccessKey] = client
	return client, nil
}

// Fetch downloads one object into destPath, reporting byte progress.
func (c *S3Client) Fetch(ctx context.Context, bucket, objectID, destPath string, creds Credentials, onProgress ProgressFunc) error {
	start := time.Now()

	client, err := c.clientFor(ctx, creds)
	if err != nil {
		metrics.RecordBridgeOperation("fetch", time.Since(start), false)
		return err
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		metrics.RecordBridgeOperation("fetch", time.Since(start), false)
		if Classify(err) == KindRateLimited {
			metrics.RecordBridgeRateLimited()
		}
		return fmt.Errorf("get object %s/%s: %w", bucket, objectID, err)
	}
	defer result.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		metrics.RecordBridgeOperation("fetch", time.Since(start), false)
		return fmt.Errorf("create %s: %w", destPath, err)
	}

	var body io.Reader = result.Body
	if onProgress != nil {
		body = &progressReader{r: result.Body, onProgress: onProgress}
	}

	n, err := io.Copy(out, body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		metrics.RecordBridgeOperation("fetch", time.Since(start), false)
		return fmt.Errorf("download %s/%s: %w", bucket, objectID, err)
	}

	metrics.RecordBridgeOperation("fetch", time.Since(start), true)
	logging.Debug("bridge fetch",
		zap.String("bucket", bucket),
		zap.String("object", objectID),
		zap.Int64("bytes", n))
	return nil
}

// Delete removes one object from a bucket.
func (c *S3Client) Delete(ctx context.Context, bucket, objectID string, creds Credentials) error {
	start := time.Now()

	client, err := c.clientFor(ctx, creds)
	if err != nil {
		metrics.RecordBridgeOperation("delete", time.Since(start), false)
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		metrics.RecordBridgeOperation("delete", time.Since(start), false)
		return fmt.Errorf("delete object %s/%s: %w", bucket, objectID, err)
	}

	metrics.RecordBridgeOperation("delete", time.Since(start), true)
	logging.Debug("bridge delete", zap.String("bucket", bucket), zap.String("object", objectID))
	return nil
}

// List enumerates the objects in a bucket.
func (c *S3Client) List(ctx context.Context, bucket string, creds Credentials) ([]ObjectInfo, error) {
	start := time.Now()

	client, err := c.clientFor(ctx, creds)
	if err != nil {
		metrics.RecordBridgeOperation("list", time.Since(start), false)
		return nil, err
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordBridgeOperation("list", time.Since(start), false)
			return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{ID: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.Modified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}

	metrics.RecordBridgeOperation("list", time.Since(start), true)
	return objects, nil
}

// progressReader reports cumulative bytes read to a callback.
type progressReader struct {
	r          io.Reader
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.onProgress(p.total)
	}
	return n, err
}
