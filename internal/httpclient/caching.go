package httpclient

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingTransport returns a round tripper that honors the provider's
// Cache-Control headers, so repeated profile lookups for the same user skip
// the network. The cache lives under cacheDir and survives restarts; with an
// empty cacheDir it falls back to a process-lifetime memory cache.
func NewCachingTransport(cacheDir string) http.RoundTripper {
	if cacheDir == "" {
		return httpcache.NewTransport(httpcache.NewMemoryCache())
	}

	return httpcache.NewTransport(diskcache.New(cacheDir))
}
