package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/mwantia/goattach/pkg/log"
)

// AzureBackend stores content as block blobs in an Azure storage container
type AzureBackend struct {
	remote[*container.Client]
}

func NewAzureBackend(tenancy string, provider CredentialProvider, logger log.LoggerService) *AzureBackend {
	return &AzureBackend{
		remote: newRemote(KindAzure, tenancy, provider, logger, newAzureClient),
	}
}

func newAzureClient(ctx context.Context, creds Credentials) (*container.Client, error) {
	if uri := creds.Get("container_uri"); uri != "" && creds.Get("sas_token") != "" {
		sas := strings.TrimPrefix(creds.Get("sas_token"), "?")
		return container.NewClientWithNoCredential(uri+"?"+sas, nil)
	}

	account := creds.Get("account_name")
	if account == "" || creds.Get("account_key") == "" {
		return nil, fmt.Errorf("%w: azure credentials need either container_uri with sas_token or account_name with account_key", ErrConfiguration)
	}

	shared, err := azblob.NewSharedKeyCredential(account, creds.Get("account_key"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	uri := creds.Get("container_uri")
	if uri == "" {
		uri = fmt.Sprintf("https://%s.blob.core.windows.net/%s", account, creds.Get("container_name"))
	}
	return container.NewClientWithSharedKeyCredential(uri, shared, nil)
}

func (b *AzureBackend) Kind() Kind {
	return KindAzure
}

func (b *AzureBackend) Put(ctx context.Context, key Key, body io.Reader, size int64) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.NewBlockBlobClient(key.URL).UploadStream(ctx, body, &blockblob.UploadStreamOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return fmt.Errorf("%w: '%s'", ErrConflict, key.URL)
		}
		b.log.Error("Failed to upload blob '%s': %v (check the container uri and sas token)", key.URL, err)
		return fmt.Errorf("failed to upload blob '%s': %w", key.URL, err)
	}

	return nil
}

func (b *AzureBackend) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	client, err := b.client(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.NewBlobClient(key.URL).DownloadStream(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key.URL)
		}
		b.log.Error("Failed to download blob '%s': %v (check the container uri and sas token)", key.URL, err)
		return nil, fmt.Errorf("failed to download blob '%s': %w", key.URL, err)
	}

	return resp.Body, nil
}

func (b *AzureBackend) Delete(ctx context.Context, key Key) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.NewBlobClient(key.URL).Delete(ctx, nil)
	if err != nil && !isAzureNotFound(err) {
		b.log.Error("Failed to delete blob '%s': %v (check container permissions)", key.URL, err)
		return fmt.Errorf("failed to delete blob '%s': %w", key.URL, err)
	}

	return nil
}

func (b *AzureBackend) Exists(ctx context.Context, key Key) (bool, error) {
	client, err := b.client(ctx)
	if err != nil {
		return false, err
	}

	_, err = client.NewBlobClient(key.URL).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch properties of blob '%s': %w", key.URL, err)
	}

	return true, nil
}

func isAzureNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}

	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

var _ Backend = (*AzureBackend)(nil)
