package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
)

// MD5Header carries the hex MD5 of uploaded objects.
const MD5Header = "X-Amz-Meta-Md5"

// DefaultObjectEndpoint is the virtual-hosted S3 endpoint template.
const DefaultObjectEndpoint = "https://{bucket}.s3.{region}.amazonaws.com/{key}"

// Target is the object store location returned by the repository.
type Target struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

// ObjectStore receives published archive objects.
type ObjectStore interface {
	Put(ctx context.Context, target Target, obj archive.Object) error
}

// Putter issues PUT requests. *session.Session satisfies it.
type Putter interface {
	Put(ctx context.Context, url string, body io.Reader, header http.Header) (int, error)
}

// HTTPObjectStore uploads objects with plain PUT requests to an endpoint
// template. The template placeholders {bucket}, {region} and {key} are
// replaced per object.
type HTTPObjectStore struct {
	client   Putter
	endpoint string
}

// NewHTTPObjectStore creates a store. An empty endpoint selects
// DefaultObjectEndpoint.
func NewHTTPObjectStore(client Putter, endpoint string) *HTTPObjectStore {
	if endpoint == "" {
		endpoint = DefaultObjectEndpoint
	}
	return &HTTPObjectStore{client: client, endpoint: endpoint}
}

// URL returns the object URL for key in target.
func (s *HTTPObjectStore) URL(target Target, key string) string {
	return strings.NewReplacer(
		"{bucket}", target.Bucket,
		"{region}", target.Region,
		"{key}", key,
	).Replace(s.endpoint)
}

// Put uploads obj with its MD5 in the metadata header.
func (s *HTTPObjectStore) Put(ctx context.Context, target Target, obj archive.Object) error {
	header := http.Header{
		MD5Header:      {obj.MD5},
		"Content-Type": {"application/octet-stream"},
	}
	if _, err := s.client.Put(ctx, s.URL(target, obj.Key), obj.Body, header); err != nil {
		return fmt.Errorf("upload %s: %w", obj.Key, err)
	}
	return nil
}

// Upload publishes the archive at path: its objects are put into the
// store returned by the repository, then the repository is asked to
// reindex. It reports whether the reindex request returned 200.
func (ix *Index) Upload(ctx context.Context, path string, store ObjectStore) (bool, error) {
	var target Target
	if _, err := ix.client.GetJSON(ctx, ix.endpoint("upload"), &target); err != nil {
		return false, fmt.Errorf("fetch upload target: %w", err)
	}

	a, err := archive.Open(path, archive.WithReaderLogger(ix.logger))
	if err != nil {
		return false, err
	}
	defer a.Close()

	objects, err := a.Objects()
	if err != nil {
		return false, err
	}
	var total uint64
	for _, obj := range objects {
		total += uint64(obj.Size) //nolint:gosec // sizes are non-negative
	}
	var done uint64
	for i, obj := range objects {
		ix.logger.Info("upload", slog.String("key", obj.Key), slog.Int64("size", obj.Size))
		if err := store.Put(ctx, target, obj); err != nil {
			return false, err
		}
		done += uint64(obj.Size) //nolint:gosec // sizes are non-negative
		if ix.progress != nil {
			ix.progress(core.ProgressEvent{
				Stage:      core.StageUploading,
				Path:       obj.Key,
				BytesDone:  done,
				BytesTotal: total,
				FilesDone:  i + 1,
				FilesTotal: len(objects),
			})
		}
	}

	code, err := ix.client.Put(ctx, ix.endpoint("reindex"), nil, nil)
	if err != nil {
		return false, fmt.Errorf("reindex: %w", err)
	}
	return code == http.StatusOK, nil
}
