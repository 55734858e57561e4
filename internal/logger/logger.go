package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*providerRequests)(nil)

type providerRequests struct {
	next http.RoundTripper
}

// Transport wraps a round tripper and logs every provider request with its
// status and duration.
func Transport(next http.RoundTripper) http.RoundTripper {
	return &providerRequests{next: next}
}

func (p *providerRequests) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	resp, err := p.next.RoundTrip(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("provider request")

		return resp, err
	}

	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("provider request")

	return resp, err
}
