package hosted

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock records requested waits instead of sleeping.
type fakeClock struct {
	waits []time.Duration
}

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return nil
}

func testPolicy(clock *fakeClock) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
		Budget:      10 * time.Second,
		Retryable:   DefaultRetryableStatuses,
		Sleep:       clock.Sleep,
	}
}

// statusSequence answers with the given statuses in order, then 200.
func statusSequence(statuses ...int) (http.Handler, *int32) {
	var calls int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.WriteHeader(http.StatusOK)
	}), &calls
}

func doGet(t *testing.T, client *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
}

func TestTransport_RetriesTransientStatuses(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable, http.StatusBadGateway)
	server := httptest.NewServer(handler)
	defer server.Close()

	clock := &fakeClock{}
	client := &http.Client{Transport: &Transport{Policy: testPolicy(clock)}}
	resp, err := doGet(t, client, server.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.waits)
}

func TestTransport_Exhaustion(t *testing.T) {
	handler, calls := statusSequence(429, 429, 429, 429, 429, 429)
	server := httptest.NewServer(handler)
	defer server.Close()

	clock := &fakeClock{}
	client := &http.Client{Transport: &Transport{Policy: testPolicy(clock)}}
	_, err := doGet(t, client, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(4), atomic.LoadInt32(calls))
	assert.Len(t, clock.waits, 3)
}

func TestTransport_NonRetryableReturnedImmediately(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			handler, calls := statusSequence(status)
			server := httptest.NewServer(handler)
			defer server.Close()

			clock := &fakeClock{}
			client := &http.Client{Transport: &Transport{Policy: testPolicy(clock)}}
			resp, err := doGet(t, client, server.URL)

			require.NoError(t, err)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
			assert.Empty(t, clock.waits)
		})
	}
}

func TestTransport_HonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	clock := &fakeClock{}
	client := &http.Client{Transport: &Transport{Policy: testPolicy(clock)}}
	_, err := doGet(t, client, server.URL)

	require.NoError(t, err)
	// Retry-After replaces the backoff and is capped at MaxDelay.
	assert.Equal(t, []time.Duration{0, time.Second}, clock.waits)
}

func TestTransport_BudgetStopsEarly(t *testing.T) {
	handler, calls := statusSequence(500, 500, 500, 500)
	server := httptest.NewServer(handler)
	defer server.Close()

	clock := &fakeClock{}
	policy := testPolicy(clock)
	policy.Budget = 250 * time.Millisecond
	client := &http.Client{Transport: &Transport{Policy: policy}}
	_, err := doGet(t, client, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	// 100ms fits, 100+200ms does not.
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.waits)
}

func TestTransport_NetworkErrorsAreRetried(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	clock := &fakeClock{}
	client := &http.Client{Transport: &Transport{Policy: testPolicy(clock)}}
	_, err := doGet(t, client, url)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Len(t, clock.waits, 3)
}

func TestTransport_ContextCancelStopsWaiting(t *testing.T) {
	handler, _ := statusSequence(503, 503)
	server := httptest.NewServer(handler)
	defer server.Close()

	policy := testPolicy(&fakeClock{})
	policy.Sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	client := &http.Client{Transport: &Transport{Policy: policy}}
	_, err := doGet(t, client, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestAPIError_Classification(t *testing.T) {
	assert.True(t, errors.Is(&APIError{StatusCode: 401}, ErrUnauthorized))
	assert.True(t, errors.Is(&APIError{StatusCode: 403}, ErrForbidden))
	assert.True(t, errors.Is(&APIError{StatusCode: 404}, ErrNotFound))
	assert.True(t, errors.Is(&APIError{StatusCode: 400}, ErrUnavailable))
	assert.False(t, errors.Is(&APIError{StatusCode: 400}, ErrNotFound))
	assert.Contains(t, (&APIError{StatusCode: 400, URL: "https://x", Body: "bad"}).Error(), "HTTP 400: bad")
}
