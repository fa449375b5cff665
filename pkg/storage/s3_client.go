package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

type S3Client interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, metadata map[string]string) error
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type awsS3Client struct {
	api      S3API
	uploader *manager.Uploader
}

func NewS3Client(api S3API) S3Client {
	return &awsS3Client{
		api:      api,
		uploader: manager.NewUploader(api),
	}
}

func (c *awsS3Client) Upload(ctx context.Context, bucket, key string, body io.Reader, metadata map[string]string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/json"),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *awsS3Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
