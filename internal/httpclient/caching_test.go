package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCachingTransport(t *testing.T) {
	newServer := func(t *testing.T) (*httptest.Server, *atomic.Int32) {
		t.Helper()
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Cache-Control", "max-age=60")
			w.Write([]byte(`[{"role":"manager"}]`)) //nolint:errcheck
		}))
		t.Cleanup(server.Close)
		return server, &hits
	}

	fetch := func(t *testing.T, client *http.Client, url string) string {
		t.Helper()
		resp, err := client.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	t.Run("repeat lookup is served from the disk cache", func(t *testing.T) {
		server, hits := newServer(t)
		client := &http.Client{Transport: NewCachingTransport(t.TempDir())}

		first := fetch(t, client, server.URL+"/rest/v1/profiles")
		second := fetch(t, client, server.URL+"/rest/v1/profiles")

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("empty cache dir uses the memory cache", func(t *testing.T) {
		server, hits := newServer(t)
		client := &http.Client{Transport: NewCachingTransport("")}

		fetch(t, client, server.URL+"/rest/v1/profiles")
		fetch(t, client, server.URL+"/rest/v1/profiles")

		assert.Equal(t, int32(1), hits.Load())
	})
}
