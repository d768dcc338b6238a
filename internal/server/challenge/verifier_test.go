package challenge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, url string, timeout time.Duration) *HTTPVerifier {
	t.Helper()
	v, err := NewHTTPVerifier(url, "shh", timeout, logging.Nop{})
	require.NoError(t, err)
	return v
}

func TestVerify_Pass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		assert.Equal(t, "proof-1", r.PostForm.Get("response"))
		assert.Equal(t, "203.0.113.7", r.PostForm.Get("remoteip"))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "proof-1", "203.0.113.7")
	assert.NoError(t, err)
}

func TestVerify_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "bad", "a")
	assert.ErrorIs(t, err, common.ErrChallengeFailed)
}

func TestVerify_EmptyProofSkipsUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "  ", "a")
	assert.ErrorIs(t, err, common.ErrChallengeFailed)
	assert.Zero(t, calls.Load())
}

func TestVerify_ServerErrorFailsClosedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "p", "a")
	assert.ErrorIs(t, err, common.ErrUpstreamVerifier)
	assert.NotErrorIs(t, err, common.ErrChallengeFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerify_BadRequestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "p", "a")
	assert.ErrorIs(t, err, common.ErrUpstreamVerifier)
}

func TestVerify_GarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	err := newVerifier(t, srv.URL, time.Second).Verify(context.Background(), "p", "a")
	assert.ErrorIs(t, err, common.ErrUpstreamVerifier)
}

func TestVerify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := newVerifier(t, srv.URL, 50*time.Millisecond).Verify(context.Background(), "p", "a")
	assert.ErrorIs(t, err, common.ErrUpstreamVerifier)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestVerify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newVerifier(t, url, time.Second).Verify(context.Background(), "p", "a")
	assert.ErrorIs(t, err, common.ErrUpstreamVerifier)
}

func TestNewHTTPVerifier_Validation(t *testing.T) {
	_, err := NewHTTPVerifier("", "s", time.Second, logging.Nop{})
	assert.Error(t, err)
	_, err = NewHTTPVerifier("http://x", "", time.Second, logging.Nop{})
	assert.Error(t, err)

	v, err := NewHTTPVerifier("http://x", "s", 0, logging.Nop{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v.timeout)
}
