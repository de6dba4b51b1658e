package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "db.tar", time.Time{}, bytes.NewReader(content))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "db.tar")
	got, err := Fetch(context.Background(), FetchParams{
		URL:         server.URL + "/db.tar",
		Destination: dest,
		Concurrency: 4,
	}, log.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetch_EmptyURL(t *testing.T) {
	_, err := Fetch(context.Background(), FetchParams{Destination: t.TempDir()}, log.NewLogger())
	require.Error(t, err)
}
