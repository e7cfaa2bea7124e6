package storage

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
	"go.uber.org/zap"
)

const s3CredentialHelp = `S3 credentials not found. Configure one of:
  - AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY env vars
  - AWS IAM role (for EC2/ECS/Lambda)
  - aws configure (AWS CLI)
  - OIDC role-to-assume in GitHub Actions`

// s3Backend stores objects in an S3 bucket. PutObject is atomic: a key is
// either the previous object or the fully written new one.
type s3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func newS3Backend(ctx context.Context, root string, logger *zap.Logger) (*s3Backend, error) {
	bucket, prefix, err := splitBucketRoot(root, "s3")
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &s3Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (b *s3Backend) key(path string) *string {
	return aws.String(joinPrefix(b.prefix, path))
}

func (b *s3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("stat s3://%s/%s: %w", b.bucket, path, err)
	}
	return true, nil
}

func (b *s3Backend) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("read s3://%s/%s: %w", b.bucket, path, ErrNotFound)
		}
		return nil, fmt.Errorf("read s3://%s/%s: %w", b.bucket, path, err)
	}
	defer func() {
		if cerr := out.Body.Close(); cerr != nil {
			b.logger.Warn("close S3 body", zap.String("path", path), zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", b.bucket, path, err)
	}
	return data, nil
}

func (b *s3Backend) WriteBytes(ctx context.Context, path string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("write s3://%s/%s: %w", b.bucket, path, err)
	}
	return nil
}

func (b *s3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(path),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", b.bucket, path, err)
	}
	return nil
}

func (b *s3Backend) CredentialsValid(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return &CredentialError{Backend: "S3", Help: s3CredentialHelp, Err: err}
	}
	return nil
}
