package s3source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// API is the subset of the S3 client the source needs.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client opens objects as file sources. All calls share one breaker so a
// failing endpoint stops being hammered by probe reads.
type Client struct {
	api     API
	breaker *gobreaker.CircuitBreaker
	ls      log_service.LogService
}

func NewClient(ctx context.Context, cfg Config, ls log_service.LogService) (*Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewClientWithAPI(api, ls), nil
}

func NewClientWithAPI(api API, ls log_service.LogService) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "s3-source",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ls.Warn(log_service.LogEvent{
				Message:  "Circuit breaker state changed",
				Metadata: map[string]any{"breaker": name, "from": from.String(), "to": to.String()},
			})
		},
	})
	return &Client{api: api, breaker: breaker, ls: ls}
}

// Open is a file_source.RemoteOpener for s3://bucket/key URIs.
func (c *Client) Open(ctx context.Context, name string, u *url.URL) (file_source.Source, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %s", file_source.ErrInvalidRef, u.String())
	}
	if name == "" {
		name = filepath.Base(key)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to stat object",
			Metadata: map[string]any{"bucket": bucket, "key": key, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: s3://%s/%s: %v", file_source.ErrSourceNotFound, bucket, key, err)
	}

	head := out.(*s3.HeadObjectOutput)
	return &Object{
		client: c,
		name:   name,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

type Object struct {
	client *Client
	name   string
	bucket string
	key    string
	size   int64
}

func (o *Object) Name() string { return o.name }
func (o *Object) Size() int64  { return o.size }

// Deferred marks the object for materialization on first exec use.
func (o *Object) Deferred() bool { return true }

func (o *Object) get(ctx context.Context, rangeHeader *string) (io.ReadCloser, error) {
	out, err := o.client.breaker.Execute(func() (interface{}, error) {
		return o.client.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(o.key),
			Range:  rangeHeader,
		})
	})
	if err != nil {
		return nil, err
	}
	return out.(*s3.GetObjectOutput).Body, nil
}

func (o *Object) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := file_source.CheckRange(o.size, start, end); err != nil {
		return nil, err
	}
	if start == end {
		return []byte{}, nil
	}

	body, err := o.get(ctx, aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)))
	if err != nil {
		return nil, fmt.Errorf("%w: get object %s: %v", file_source.ErrReadFailed, o.key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, end-start))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", file_source.ErrReadFailed, err)
	}
	return data, nil
}

// Materialize downloads the whole object. Engines need a real file, so this
// only happens when the object is passed to exec without a chunk.
func (o *Object) Materialize(ctx context.Context, hostPath string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", file_source.ErrMaterializeFailed, err)
	}

	body, err := o.get(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: get object %s: %v", file_source.ErrMaterializeFailed, o.key, err)
	}
	defer body.Close()

	f, err := os.Create(hostPath)
	if err != nil {
		return fmt.Errorf("%w: %v", file_source.ErrMaterializeFailed, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", file_source.ErrMaterializeFailed, err)
	}
	return f.Close()
}

var _ file_source.Source = (*Object)(nil)
