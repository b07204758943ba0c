package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "attachments"

// objectStore is an in-memory bucket served through the wire protocols of
// the supported object stores.
type objectStore struct {
	mutex   sync.Mutex
	objects map[string][]byte
	// deny answers every request with 403 when set
	deny atomic.Bool
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string][]byte)}
}

// create stores data under name unless the name is taken.
func (o *objectStore) create(name string, data []byte) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.objects[name]; exists {
		return false
	}
	o.objects[name] = data
	return true
}

func (o *objectStore) get(name string) ([]byte, bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	data, ok := o.objects[name]
	return data, ok
}

func (o *objectStore) remove(name string) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	_, ok := o.objects[name]
	delete(o.objects, name)
	return ok
}

func (o *objectStore) s3Handler() http.Handler {
	s3Error := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		if r.Method == http.MethodHead {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.deny.Load() {
			s3Error(w, r, http.StatusForbidden, "AccessDenied")
			return
		}
		name, ok := strings.CutPrefix(r.URL.Path, "/"+testBucket+"/")
		if !ok {
			s3Error(w, r, http.StatusNotFound, "NoSuchBucket")
			return
		}

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			if r.Header.Get("If-None-Match") != "*" {
				s3Error(w, r, http.StatusBadRequest, "MissingPrecondition")
				return
			}
			if !o.create(name, data) {
				s3Error(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, ok := o.get(name)
			if !ok {
				s3Error(w, r, http.StatusNotFound, "NoSuchKey")
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		case http.MethodDelete:
			o.remove(name)
			w.WriteHeader(http.StatusNoContent)
		default:
			s3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		}
	})
}

func (o *objectStore) azureHandler() http.Handler {
	azureError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		w.Header().Set("x-ms-error-code", code)
		if r.Method == http.MethodHead {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.deny.Load() {
			azureError(w, r, http.StatusForbidden, "AuthorizationFailure")
			return
		}
		name, ok := strings.CutPrefix(r.URL.Path, "/"+testBucket+"/")
		if !ok {
			azureError(w, r, http.StatusNotFound, "ContainerNotFound")
			return
		}

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			if r.Header.Get("If-None-Match") != "*" {
				azureError(w, r, http.StatusBadRequest, "MissingRequiredHeader")
				return
			}
			if !o.create(name, data) {
				azureError(w, r, http.StatusConflict, "BlobAlreadyExists")
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet, http.MethodHead:
			data, ok := o.get(name)
			if !ok {
				azureError(w, r, http.StatusNotFound, "BlobNotFound")
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("x-ms-blob-type", "BlockBlob")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		case http.MethodDelete:
			if !o.remove(name) {
				azureError(w, r, http.StatusNotFound, "BlobNotFound")
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			azureError(w, r, http.StatusMethodNotAllowed, "UnsupportedHttpVerb")
		}
	})
}

func (o *objectStore) gcsHandler() http.Handler {
	gcsError := func(w http.ResponseWriter, status int, message string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": status, "message": message},
		})
	}
	object := func(w http.ResponseWriter, name string, size int) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"kind":       "storage#object",
			"bucket":     testBucket,
			"name":       name,
			"size":       strconv.Itoa(size),
			"generation": "1",
		})
	}

	uploads := "/upload/storage/v1/b/" + testBucket + "/o"
	objects := "/storage/v1/b/" + testBucket + "/o/"
	reads := "/" + testBucket + "/"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.deny.Load() {
			gcsError(w, http.StatusForbidden, "forbidden")
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == uploads:
			name, data, err := readMultipartUpload(r)
			if err != nil {
				gcsError(w, http.StatusBadRequest, err.Error())
				return
			}
			if r.URL.Query().Get("ifGenerationMatch") != "0" {
				gcsError(w, http.StatusBadRequest, "missing precondition")
				return
			}
			if !o.create(name, data) {
				gcsError(w, http.StatusPreconditionFailed, "conditionNotMet")
				return
			}
			object(w, name, len(data))
		case strings.HasPrefix(r.URL.Path, objects):
			name := strings.TrimPrefix(r.URL.Path, objects)
			switch r.Method {
			case http.MethodGet:
				data, ok := o.get(name)
				if !ok {
					gcsError(w, http.StatusNotFound, "No such object")
					return
				}
				object(w, name, len(data))
			case http.MethodDelete:
				if !o.remove(name) {
					gcsError(w, http.StatusNotFound, "No such object")
					return
				}
				w.WriteHeader(http.StatusNoContent)
			default:
				gcsError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, reads):
			data, ok := o.get(strings.TrimPrefix(r.URL.Path, reads))
			if !ok {
				gcsError(w, http.StatusNotFound, "No such object")
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
		default:
			gcsError(w, http.StatusNotFound, "unknown route "+r.URL.Path)
		}
	})
}

// readMultipartUpload splits a multipart/related upload into the object
// name and its media.
func readMultipartUpload(r *http.Request) (string, []byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, err
	}
	reader := multipart.NewReader(r.Body, params["boundary"])

	part, err := reader.NextPart()
	if err != nil {
		return "", nil, err
	}
	var metadata struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(part).Decode(&metadata); err != nil {
		return "", nil, err
	}

	part, err = reader.NextPart()
	if err != nil {
		return "", nil, err
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return "", nil, err
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = metadata.Name
	}
	return name, data, nil
}

func objectBackend(t *testing.T, kind Kind) (Backend, *objectStore) {
	t.Helper()

	objects := newObjectStore()
	var handler http.Handler
	switch kind {
	case KindS3:
		handler = objects.s3Handler()
	case KindAzure:
		handler = objects.azureHandler()
	case KindGCP:
		handler = objects.gcsHandler()
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var creds Credentials
	switch kind {
	case KindS3:
		creds = s3Credentials()
		creds["endpoint"] = server.URL
		creds["force_path_style"] = "true"
	case KindAzure:
		creds = Credentials{"container_uri": server.URL + "/" + testBucket, "sas_token": "?sv=2024-05-04&sig=test"}
	case KindGCP:
		creds = Credentials{"bucket": testBucket, "endpoint": server.URL + "/storage/v1/"}
	}

	provider := NewConfigProvider(config.StorageServerConfig{Credentials: creds})
	switch kind {
	case KindS3:
		return NewS3Backend(config.TenancyNone, provider, nil), objects
	case KindAzure:
		return NewAzureBackend(config.TenancyNone, provider, nil), objects
	default:
		return NewGCSBackend(config.TenancyNone, provider, nil), objects
	}
}

func forEachObjectBackend(t *testing.T, fn func(t *testing.T, backend Backend, objects *objectStore)) {
	for _, kind := range []Kind{KindS3, KindAzure, KindGCP} {
		t.Run(string(kind), func(t *testing.T) {
			backend, objects := objectBackend(t, kind)
			fn(t, backend, objects)
		})
	}
}

func TestObjectBackendsMapMissingObjects(t *testing.T) {
	forEachObjectBackend(t, func(t *testing.T, backend Backend, objects *objectStore) {
		ctx := context.Background()
		key := Key{URL: "missing"}

		_, err := backend.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := backend.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		assert.NoError(t, backend.Delete(ctx, key), "deleting missing content")
	})
}

func TestObjectBackendsNeverOverwrite(t *testing.T) {
	forEachObjectBackend(t, func(t *testing.T, backend Backend, objects *objectStore) {
		ctx := context.Background()
		key := Key{URL: "obj1"}

		require.NoError(t, backend.Put(ctx, key, strings.NewReader("hello"), 5))

		exists, err := backend.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		err = backend.Put(ctx, key, strings.NewReader("other"), 5)
		assert.ErrorIs(t, err, ErrConflict)

		body, err := backend.Get(ctx, key)
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		body.Close()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		stored, ok := objects.get("obj1")
		require.True(t, ok)
		assert.Equal(t, "hello", string(stored))
	})
}

func TestObjectBackendsDeleteIsIdempotent(t *testing.T) {
	forEachObjectBackend(t, func(t *testing.T, backend Backend, objects *objectStore) {
		ctx := context.Background()
		key := Key{URL: "obj1"}

		require.NoError(t, backend.Put(ctx, key, strings.NewReader("hello"), 5))
		require.NoError(t, backend.Delete(ctx, key))
		require.NoError(t, backend.Delete(ctx, key))

		_, err := backend.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		_, ok := objects.get("obj1")
		assert.False(t, ok)

		// The key is free again once deleted.
		assert.NoError(t, backend.Put(ctx, key, strings.NewReader("again"), 5))
	})
}

func TestObjectBackendsSurfaceOtherFailures(t *testing.T) {
	forEachObjectBackend(t, func(t *testing.T, backend Backend, objects *objectStore) {
		ctx := context.Background()
		key := Key{URL: "obj1"}
		objects.deny.Store(true)

		_, err := backend.Get(ctx, key)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)

		_, err = backend.Exists(ctx, key)
		assert.Error(t, err)

		err = backend.Put(ctx, key, strings.NewReader("hello"), 5)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrConflict)

		assert.Error(t, backend.Delete(ctx, key))
	})
}
