package tokenstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiryRewriter periodically re-extends the stored session expiry so the
// persisted token stays long-lived regardless of what the provider issued.
// It runs independently of any user action.
type ExpiryRewriter struct {
	store    *Store
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewExpiryRewriter creates a rewriter over the given store.
func NewExpiryRewriter(store *Store, interval time.Duration) *ExpiryRewriter {
	return &ExpiryRewriter{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the rewrite loop. Call Stop to shut it down.
func (r *ExpiryRewriter) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop terminates the rewrite loop and waits for it to exit.
func (r *ExpiryRewriter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *ExpiryRewriter) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Debug().Dur("interval", r.interval).Msg("expiry rewriter started")

	for {
		select {
		case <-ticker.C:
			// ReadFresh extends and re-persists as a side effect.
			if sess := r.store.ReadFresh(time.Now()); sess != nil {
				log.Debug().Time("expires_at", sess.ExpiresAt).Msg("rewrote stored token expiry")
			}

		case <-r.stopCh:
			log.Debug().Msg("expiry rewriter stopping")
			return

		case <-ctx.Done():
			log.Debug().Msg("expiry rewriter context cancelled")
			return
		}
	}
}
