package authclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/config"
)

// RoundTripFunc sends a single HTTP request.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// Interceptor wraps a RoundTripFunc, forming a composable request pipeline.
type Interceptor func(next RoundTripFunc) RoundTripFunc

// Chain applies interceptors to base so that the first interceptor listed is
// the outermost.
func Chain(base RoundTripFunc, interceptors ...Interceptor) RoundTripFunc {
	rt := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		rt = interceptors[i](rt)
	}
	return rt
}

// NavigationState tracks whether a page transition is in flight. The app
// shell sets it on unload and clears it once the next page has loaded.
type NavigationState struct {
	inFlight atomic.Bool
}

// Begin marks a navigation as in flight.
func (n *NavigationState) Begin() {
	n.inFlight.Store(true)
}

// End clears the navigation-in-flight mark.
func (n *NavigationState) End() {
	n.inFlight.Store(false)
}

// InFlight reports whether a navigation is currently in flight.
func (n *NavigationState) InFlight() bool {
	return n.inFlight.Load()
}

// headerInterceptor attaches the provider API key and, when a session
// exists, a bearer token to every request.
func (c *Client) headerInterceptor() Interceptor {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(req *http.Request) (*http.Response, error) {
			req.Header.Set("apikey", c.apiKey)
			if req.Header.Get("Authorization") == "" {
				if sess, _ := c.store.ReadRaw(); sess != nil {
					req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
				}
			}
			return next(req)
		}
	}
}

// refreshSuppressionInterceptor short-circuits token-refresh calls while a
// navigation is in flight, answering with the stored session instead. The
// provider's refresh flow causes a full reload flicker on tab refocus;
// serving the locally extended token keeps the UI stable. Only active under
// the stability policy.
func (c *Client) refreshSuppressionInterceptor() Interceptor {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(req *http.Request) (*http.Response, error) {
			if !c.isRefreshRequest(req) || c.policy != config.PreferStability {
				return next(req)
			}
			if !c.nav.InFlight() {
				return next(req)
			}

			sess := c.store.ReadFresh(time.Now())
			if sess == nil {
				// Nothing to answer with; let the provider decide.
				return next(req)
			}

			log.Debug().Msg("refresh suppressed during navigation, serving stored session")

			env := sessionEnvelope{
				AccessToken:  sess.AccessToken,
				RefreshToken: sess.RefreshToken,
				ExpiresIn:    int64(time.Until(sess.ExpiresAt).Seconds()),
			}
			env.User.ID = sess.UserID.String()

			body, err := json.Marshal(env)
			if err != nil {
				return next(req)
			}

			return &http.Response{
				StatusCode: http.StatusOK,
				Status:     http.StatusText(http.StatusOK),
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(bytes.NewReader(body)),
				Request:    req,
			}, nil
		}
	}
}

func (c *Client) isRefreshRequest(req *http.Request) bool {
	return strings.HasSuffix(req.URL.Path, tokenPath) &&
		req.URL.Query().Get("grant_type") == "refresh_token"
}
