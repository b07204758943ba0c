package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mwantia/goattach/pkg/log"
)

type s3Client struct {
	api    *s3.Client
	bucket string
}

// S3Backend stores content as objects in an S3 compatible bucket
type S3Backend struct {
	remote[*s3Client]
}

func NewS3Backend(tenancy string, provider CredentialProvider, logger log.LoggerService) *S3Backend {
	return &S3Backend{
		remote: newRemote(KindS3, tenancy, provider, logger, newS3Client),
	}
}

func newS3Client(ctx context.Context, creds Credentials) (*s3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Get("region")),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.Get("access_key_id"), creds.Get("secret_access_key"), creds.Get("session_token"))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %w", err)
	}

	pathStyle, _ := strconv.ParseBool(creds.Get("force_path_style"))
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := creds.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return &s3Client{api: api, bucket: creds.Get("bucket")}, nil
}

func (b *S3Backend) Kind() Kind {
	return KindS3
}

func (b *S3Backend) Put(ctx context.Context, key Key, body io.Reader, size int64) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	// Unknown lengths are buffered, the SDK refuses unseekable bodies without one.
	if size < 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to buffer content for '%s': %w", key.URL, err)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}

	_, err = client.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(client.bucket),
		Key:           aws.String(key.URL),
		Body:          body,
		ContentLength: aws.Int64(size),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isS3Conflict(err) {
			return fmt.Errorf("%w: '%s'", ErrConflict, key.URL)
		}
		b.log.Error("Failed to upload object '%s' to bucket '%s': %v (check credentials and bucket permissions)", key.URL, client.bucket, err)
		return fmt.Errorf("failed to upload object '%s': %w", key.URL, err)
	}

	return nil
}

func (b *S3Backend) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key.URL),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key.URL)
		}
		b.log.Error("Failed to download object '%s' from bucket '%s': %v (check credentials and network access)", key.URL, client.bucket, err)
		return nil, fmt.Errorf("failed to download object '%s': %w", key.URL, err)
	}

	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, key Key) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key.URL),
	})
	if err != nil && !isS3NotFound(err) {
		b.log.Error("Failed to delete object '%s' from bucket '%s': %v (check bucket permissions)", key.URL, client.bucket, err)
		return fmt.Errorf("failed to delete object '%s': %w", key.URL, err)
	}

	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key Key) (bool, error) {
	client, err := b.client(ctx)
	if err != nil {
		return false, err
	}

	_, err = client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(client.bucket),
		Key:    aws.String(key.URL),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object '%s': %w", key.URL, err)
	}

	return true, nil
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func statusCodeOf(err error) int {
	var status httpStatusError
	if errors.As(err, &status) {
		return status.HTTPStatusCode()
	}
	return 0
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return statusCodeOf(err) == http.StatusNotFound
}

func isS3Conflict(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}

	code := statusCodeOf(err)
	return code == http.StatusPreconditionFailed || code == http.StatusConflict
}

var _ Backend = (*S3Backend)(nil)
