package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evihost/unifi-cam-proxy/internal/hikvision"
)

type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

type fakeSource struct {
	body io.Reader
	err  error
}

func (s *fakeSource) Picture(ctx context.Context, channel int) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(s.body), nil
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetcher_Fetch(t *testing.T) {
	image := bytes.Repeat([]byte{0xff, 0xd8, 0x01}, 2000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ISAPI/Streaming/channels/102/picture", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(image)
	}))
	defer srv.Close()

	client, err := hikvision.NewClient(hikvision.Config{BaseURL: srv.URL, Auth: hikvision.AuthBasic})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "snapshots")
	f, err := NewFetcher(client, dir, nil)
	require.NoError(t, err)

	path, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, image, data)
	assert.Equal(t, []string{FileName}, dirEntries(t, dir))
}

func TestFetcher_OverwritesPrevious(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFetcher(&fakeSource{body: bytes.NewReader([]byte("first"))}, dir, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.NoError(t, err)

	f.source = &fakeSource{body: bytes.NewReader([]byte("second"))}
	path, err := f.Fetch(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFetcher_UnreachableHost(t *testing.T) {
	// Grab a free port and release it so nothing is listening
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := hikvision.NewClient(hikvision.Config{BaseURL: addr, Timeout: time.Second})
	require.NoError(t, err)

	dir := t.TempDir()
	f, err := NewFetcher(client, dir, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)

	var fetchErr *TransientFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Temporary())
	assert.True(t, IsTransient(err))
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := hikvision.NewClient(hikvision.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	dir := t.TempDir()
	f, err := NewFetcher(client, dir, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var statusErr *hikvision.StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetcher_ReadFailureRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFetcher(&fakeSource{body: &failingReader{data: []byte("partial")}}, dir, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, dirEntries(t, dir))
}

func TestNewFetcher_RequiresDir(t *testing.T) {
	_, err := NewFetcher(&fakeSource{}, "", nil)
	assert.Error(t, err)
}

func TestCopyChunked(t *testing.T) {
	src := bytes.Repeat([]byte("a"), 3*chunkSize+17)
	var dst bytes.Buffer

	n, err := copyChunked(&dst, bytes.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)
	assert.Equal(t, src, dst.Bytes())
}
