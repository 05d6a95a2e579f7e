// Package azure implements the state store on Azure Blob Storage. The
// conditional write rides on blob ETags: an upload with If-Match only
// succeeds when nobody replaced the blob since it was read, which gives
// the at-most-one-winner guarantee without a lease.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Store persists table state as JSON blobs in one container.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New connects to the storage account and ensures the container exists.
func New(connectionString, container, prefix string) (*Store, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	_, err = client.CreateContainer(context.Background(), container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create or check container %s: %w", container, err)
	}
	return &Store{client: client, container: container, prefix: prefix}, nil
}

func (s *Store) blobClient(key string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlockBlobClient(key)
}

func (s *Store) Get(ctx context.Context, datasource, table string) (*state.TableState, error) {
	key := state.ObjectKey(s.prefix, datasource, table)

	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, diff.ErrStateNotFound
		}
		return nil, fmt.Errorf("download state %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}
	return state.Decode(data)
}

func (s *Store) Put(ctx context.Context, datasource, table string, st *state.TableState, expectedVersion int64) error {
	key := state.ObjectKey(s.prefix, datasource, table)
	data, err := state.Encode(st)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		// First write: succeed only if the blob does not exist yet.
		noneMatch := azcore.ETagAny
		_, err = s.blobClient(key).UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &noneMatch},
			},
		})
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
				return diff.ErrVersionConflict
			}
			return fmt.Errorf("create state %s: %w", key, err)
		}
		return nil
	}

	// Re-read version and ETag, then swap conditionally on the ETag so a
	// write between the read and the upload still loses.
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return diff.ErrVersionConflict
		}
		return fmt.Errorf("read current state %s: %w", key, err)
	}
	current, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read current state %s: %w", key, err)
	}
	cur, err := state.Decode(current)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		logging.GetLogger().Debug("state version moved", "key", key,
			"expected", expectedVersion, "actual", cur.Version)
		return diff.ErrVersionConflict
	}

	_, err = s.blobClient(key).UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: resp.ETag},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) {
			return diff.ErrVersionConflict
		}
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}

// PutObject uploads an arbitrary blob, used by the snapshot exporter to
// drop change-set files next to the state.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.UploadStream(ctx, s.container, key, bytes.NewReader(body), &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
