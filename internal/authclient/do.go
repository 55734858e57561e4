package authclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// ErrStaleToken is returned when the provider keeps rejecting the token
// signature after a refresh-and-retry cycle.
var ErrStaleToken = errors.New("stale token rejected by provider")

// Do executes a data request through the auth pipeline. A 406 Not Acceptable
// response means the token signature went stale; the client performs exactly
// one session-refresh-and-retry cycle before surfacing the error.
//
// The request must be rebuildable (GetBody set) for the retry to work;
// requests built from byte readers satisfy this.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	refreshed := false

	operation := func() (*http.Response, error) {
		attempt := req
		if refreshed {
			clone := req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, backoff.Permanent(fmt.Errorf("failed to rebuild request body: %w", err))
				}
				clone.Body = body
			}
			// Force the header interceptor to pick up the refreshed token.
			clone.Header.Del("Authorization")
			attempt = clone
		}

		resp, err := c.transport(attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if resp.StatusCode != http.StatusNotAcceptable {
			return resp, nil
		}

		drain(resp)

		if refreshed {
			return nil, backoff.Permanent(ErrStaleToken)
		}

		log.Debug().Str("path", req.URL.Path).Msg("406 from provider, refreshing session and retrying once")

		if _, err := c.RefreshSession(req.Context()); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrStaleToken, err))
		}
		refreshed = true

		return nil, ErrStaleToken
	}

	return backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
}
