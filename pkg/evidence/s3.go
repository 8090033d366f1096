package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Vault stores blobs in an S3 bucket under <prefix><digest>.blob keys.
type S3Vault struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures the S3 backend. Endpoint switches the client to
// path-style addressing for MinIO and LocalStack.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Vault builds the client from the ambient AWS credential chain.
func NewS3Vault(ctx context.Context, cfg S3Config) (*S3Vault, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Vault{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (v *S3Vault) key(digest string) string {
	return v.prefix + digest + ".blob"
}

func (v *S3Vault) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	digest, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	key := v.key(digest)

	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return addr, nil
	}

	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	return addr, nil
}

func (v *S3Vault) Get(ctx context.Context, addr string) ([]byte, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", addr, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", addr, err)
	}
	if err := verifyContent(addr, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *S3Vault) Exists(ctx context.Context, addr string) (bool, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(digest)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", addr, err)
	}
	return true, nil
}
