// Package fetch retrieves raw track audio over the network with bounded
// exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/driftaudio/lofi-cli/internal/track"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultMultiplier     = 2.0
	DefaultMaxDelay       = 8 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// Policy describes a bounded exponential backoff schedule. It is independent
// of any network code so the schedule can be tested on its own.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the retry schedule used for track downloads.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		Multiplier:     DefaultMultiplier,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Delay returns how long to wait before the given attempt. Attempts are
// numbered from 1; the first attempt has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2)))
	if d > p.MaxDelay || d < 0 {
		return p.MaxDelay
	}
	return d
}

// FailedError reports that every attempt for one track was exhausted.
type FailedError struct {
	Identifier string
	Attempts   int
	Err        error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("fetch failed for %q after %d attempts: %v", e.Identifier, e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("download returned status %d: %s", e.StatusCode, e.Status)
}

// Catalog entries disappear; retrying a 404 only burns the backoff budget.
func isNonRetryableError(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 404, 410:
			return true
		}
	}
	return false
}

// Fetcher downloads raw track bytes. Partial downloads are discarded on
// failure; there are no resume semantics.
type Fetcher struct {
	client   *resty.Client
	policy   Policy
	trackURL func(id string) string
}

// NewFetcher creates a Fetcher. trackURL maps a catalog identifier to its
// absolute download URL.
func NewFetcher(trackURL func(id string) string, policy Policy) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}

	return &Fetcher{
		client: resty.New().
			SetTimeout(policy.AttemptTimeout),
		policy:   policy,
		trackURL: trackURL,
	}
}

// Fetch retrieves the full audio payload for a track. On any network error
// it retries with bounded exponential backoff up to the policy's attempt
// ceiling, then returns a FailedError. Cancellation of ctx aborts the
// in-flight attempt and any pending backoff wait.
func (f *Fetcher) Fetch(ctx context.Context, t track.Track) (*track.Buffered, error) {
	url := f.trackURL(t.ID)

	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if delay := f.policy.Delay(attempt); delay > 0 {
			log.Debug().Str("play_id", t.PlayID).Dur("delay", delay).
				Int("attempt", attempt).Int("max", f.policy.MaxAttempts).
				Msg("Backing off before retry")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			log.Debug().Str("play_id", t.PlayID).Int("bytes", len(data)).
				Int("attempt", attempt).Msg("Track downloaded")
			return &track.Buffered{Track: t, Data: data}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if isNonRetryableError(err) {
			log.Warn().Err(err).Str("track", t.ID).Msg("Non-retryable download error")
			return nil, &FailedError{Identifier: t.ID, Attempts: attempt, Err: err}
		}

		log.Warn().Err(err).Str("track", t.ID).
			Int("attempt", attempt).Int("max", f.policy.MaxAttempts).
			Msg("Track download failed")
	}

	return nil, &FailedError{Identifier: t.ID, Attempts: f.policy.MaxAttempts, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.policy.AttemptTimeout)
	defer cancel()

	resp, err := f.client.R().SetContext(attemptCtx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download track: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, &httpStatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
