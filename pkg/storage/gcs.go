package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"github.com/mwantia/goattach/pkg/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSBackend stores content as objects in a Google Cloud Storage bucket
type GCSBackend struct {
	remote[*gcs.BucketHandle]
}

func NewGCSBackend(tenancy string, provider CredentialProvider, logger log.LoggerService) *GCSBackend {
	return &GCSBackend{
		remote: newRemote(KindGCP, tenancy, provider, logger, newGCSClient),
	}
}

func newGCSClient(ctx context.Context, creds Credentials) (*gcs.BucketHandle, error) {
	var opts []option.ClientOption
	switch {
	case creds.Get("credentials_json") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(creds.Get("credentials_json"))))
	case creds.Get("credentials_file") != "":
		opts = append(opts, option.WithCredentialsFile(creds.Get("credentials_file")))
	default:
		opts = append(opts, option.WithoutAuthentication())
	}
	if endpoint := creds.Get("endpoint"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	client, err := gcs.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	return client.Bucket(creds.Get("bucket")), nil
}

func (b *GCSBackend) Kind() Kind {
	return KindGCP
}

func (b *GCSBackend) Put(ctx context.Context, key Key, body io.Reader, size int64) error {
	bucket, err := b.client(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := bucket.Object(key.URL).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(writer, body); err != nil {
		// Cancelling before Close aborts the upload instead of committing a partial object.
		cancel()
		writer.Close()
		return fmt.Errorf("failed to stream object '%s': %w", key.URL, err)
	}

	if err := writer.Close(); err != nil {
		if googleCode(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: '%s'", ErrConflict, key.URL)
		}
		b.log.Error("Failed to upload object '%s': %v (check service account permissions)", key.URL, err)
		return fmt.Errorf("failed to upload object '%s': %w", key.URL, err)
	}

	return nil
}

func (b *GCSBackend) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	bucket, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := bucket.Object(key.URL).NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key.URL)
		}
		b.log.Error("Failed to download object '%s': %v (check service account permissions)", key.URL, err)
		return nil, fmt.Errorf("failed to download object '%s': %w", key.URL, err)
	}

	return reader, nil
}

func (b *GCSBackend) Delete(ctx context.Context, key Key) error {
	bucket, err := b.client(ctx)
	if err != nil {
		return err
	}

	if err := bucket.Object(key.URL).Delete(ctx); err != nil && !isGCSNotFound(err) {
		b.log.Error("Failed to delete object '%s': %v (check service account permissions)", key.URL, err)
		return fmt.Errorf("failed to delete object '%s': %w", key.URL, err)
	}

	return nil
}

func (b *GCSBackend) Exists(ctx context.Context, key Key) (bool, error) {
	bucket, err := b.client(ctx)
	if err != nil {
		return false, err
	}

	if _, err := bucket.Object(key.URL).Attrs(ctx); err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read attributes of object '%s': %w", key.URL, err)
	}

	return true, nil
}

func googleCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist) || googleCode(err) == http.StatusNotFound
}

var _ Backend = (*GCSBackend)(nil)
