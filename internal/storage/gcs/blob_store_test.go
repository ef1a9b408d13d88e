package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "raw-pages"})
	require.NoError(t, err)
	return store
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)
}

func TestPutObjectUploadsPage(t *testing.T) {
	t.Parallel()

	objectName := "followers/44196397/run-1/page-0001.json"
	payload := []byte(`{"success":true,"top_followers":[]}`)

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/raw-pages/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")
		fmt.Fprintf(w, `{"bucket":"raw-pages","name":%q}`, objectName)
	}))

	uri, err := store.PutObject(context.Background(), "/"+objectName, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-pages/"+objectName, uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "a/page-0001.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " / ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestVerifyBucket(t *testing.T) {
	t.Parallel()

	ok := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/raw-pages")
		fmt.Fprint(w, `{"name":"raw-pages"}`)
	}))
	require.NoError(t, ok.VerifyBucket(context.Background()))

	missing := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	require.Error(t, missing.VerifyBucket(context.Background()))
}
