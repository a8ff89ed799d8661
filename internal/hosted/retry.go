package hosted

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/sirupsen/logrus"
)

// RetryPolicy decides how often and how long to wait before re-sending a request.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // wait after the first failure
	Multiplier  float64       // growth factor per further failure
	MaxDelay    time.Duration // cap for a single wait, including Retry-After
	Budget      time.Duration // cap for the sum of all waits of one request; 0 disables
	Retryable   map[int]bool  // HTTP statuses worth retrying

	// Sleep waits for d or until ctx is done. Tests replace it with a fake clock.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is used to interpret Retry-After dates.
	Now func() time.Time
}

// DefaultRetryableStatuses are rate limiting and transient server failures.
var DefaultRetryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: contract.DefaultMaxAttempts,
		BaseDelay:   contract.DefaultBaseDelay,
		Multiplier:  contract.DefaultBackoffFactor,
		MaxDelay:    contract.DefaultMaxDelay,
		Budget:      contract.DefaultRetryBudget,
		Retryable:   DefaultRetryableStatuses,
	}
}

// PolicyFromConfig builds a policy from validated API settings.
func PolicyFromConfig(cfg contract.APIConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Budget > 0 {
		p.Budget = cfg.Budget
	}
	return p
}

// Delay returns the backoff before attempt+1, where attempt counts failures so far (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// retryAfter reads the Retry-After header as seconds or as an HTTP date.
func (p RetryPolicy) retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		if d := at.Sub(now()); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transport applies a RetryPolicy to every request sent through Base.
type Transport struct {
	Base   http.RoundTripper
	Policy RetryPolicy
	Logger logrus.FieldLogger
}

var _ http.RoundTripper = &Transport{} // Compile-time check

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	maxAttempts := t.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx := req.Context()
	var waited time.Duration
	for attempt := 1; ; attempt++ {
		r := req
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r = req.Clone(ctx)
			r.Body = body
		}

		resp, err := base.RoundTrip(r)
		var delay time.Duration
		var cause string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			delay = t.Policy.Delay(attempt)
			cause = err.Error()
		case t.Policy.Retryable[resp.StatusCode]:
			delay = t.Policy.Delay(attempt)
			if ra, ok := t.Policy.retryAfter(resp.Header); ok {
				delay = ra
				if t.Policy.MaxDelay > 0 && delay > t.Policy.MaxDelay {
					delay = t.Policy.MaxDelay
				}
			}
			cause = fmt.Sprintf("HTTP %d", resp.StatusCode)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		default:
			return resp, nil
		}

		if attempt >= maxAttempts || (t.Policy.Budget > 0 && waited+delay > t.Policy.Budget) {
			return nil, fmt.Errorf("%w: %s %s after %d attempts: %s", ErrRetriesExhausted, req.Method, req.URL.Redacted(), attempt, cause)
		}
		if t.Logger != nil {
			t.Logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"status":  cause,
				"delay":   delay,
			}).Debugf("Retrying %s", req.URL.Path)
		}
		if err := t.Policy.wait(ctx, delay); err != nil {
			return nil, err
		}
		waited += delay
	}
}
