package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAndStat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "t1", r.Header.Get(tenantHeader))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/odata/Incidents(1)/attachments":
			assert.Equal(t, "true", r.URL.Query().Get("draft"))
			io.WriteString(w, `{"value":[{"ID":"a1","filename":"sample.pdf","status":"Clean"}]}`)
		case "/odata/Incidents(1)/attachments(a1)":
			io.WriteString(w, `{"ID":"a1","filename":"sample.pdf","mimeType":"application/pdf"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"AttachmentNotFound","message":"not found"}}`)
		}
	}))
	defer server.Close()

	c := New(server.URL, "t1")
	ctx := context.Background()

	list, err := c.List(ctx, "Incidents(1)/attachments", true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Clean", list[0].Status)

	attachment, err := c.Stat(ctx, "/Incidents(1)/attachments(a1)", false)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", attachment.MimeType)

	_, err = c.Stat(ctx, "Incidents(1)/attachments(a2)", false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "AttachmentNotFound", apiErr.Code)
}

func TestUploadAndDownload(t *testing.T) {
	var stored []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/Images(img1)/content", r.URL.Path)

		switch r.Method {
		case http.MethodPut:
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Equal(t, int64(5), r.ContentLength)
			assert.Equal(t, "logo.png", r.URL.Query().Get("filename"))
			stored, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			if stored == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Write(stored)
		}
	}))
	defer server.Close()

	c := New(strings.TrimPrefix(server.URL, "http://"), "")
	ctx := context.Background()

	var buffer bytes.Buffer
	_, err := c.Download(ctx, "Images(img1)", false, &buffer)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNoContent, apiErr.Status)

	require.NoError(t, c.Upload(ctx, "Images(img1)", false, strings.NewReader("bytes"), 5, "image/png", "logo.png"))

	n, err := c.Download(ctx, "Images(img1)", false, &buffer)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "bytes", buffer.String())
}

func TestDeleteAndRescan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/rescan"):
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	c := New(server.URL+"/", "")
	ctx := context.Background()

	assert.NoError(t, c.Delete(ctx, "Incidents(1)", false))
	assert.NoError(t, c.Rescan(ctx, "Incidents(1)/attachments(a1)"))
}
