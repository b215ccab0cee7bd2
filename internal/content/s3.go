package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend serves content from S3-compatible object storage.
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// S3Config contains S3Backend configuration.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	PathStyle    bool
	AccessKey    string
	SecretKey    string
	SessionToken string // optional
}

// NewS3Backend creates an S3Backend from config.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		func(opts *config.LoadOptions) error {
			if cfg.Endpoint != "" {
				opts.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
					func(service, region string, options ...interface{}) (aws.Endpoint, error) {
						return aws.Endpoint{
							URL:               cfg.Endpoint,
							SigningRegion:     cfg.Region,
							HostnameImmutable: cfg.PathStyle,
						}, nil
					},
				)
			}
			if cfg.AccessKey != "" && cfg.SecretKey != "" {
				opts.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKey, cfg.SecretKey, cfg.SessionToken,
				)
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *S3Backend) key(hash string) string {
	k := "content/" + shardKey(hash)
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

// Exists checks content presence with a HEAD request.
func (s *S3Backend) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// Fetch downloads the content bytes for hash.
func (s *S3Backend) Fetch(ctx context.Context, hash string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	if got := HashBytes(data); got != hash {
		return nil, fmt.Errorf("content %s corrupt: stored bytes hash to %s", hash, got)
	}
	return data, nil
}

// Put uploads content, multipart for large objects.
func (s *S3Backend) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return hash, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
