// Package challenge verifies human-verification proofs against an external
// siteverify endpoint (Cloudflare Turnstile compatible).
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/hashicorp/go-retryablehttp"
)

// Verifier checks a challenge proof for a requester address. It returns nil
// on pass, common.ErrChallengeFailed on a negative verdict and
// common.ErrUpstreamVerifier when no verdict could be obtained. Any error is
// a fail.
type Verifier interface {
	Verify(ctx context.Context, proof, remoteAddr string) error
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// HTTPVerifier posts proofs to a siteverify URL with a shared secret.
type HTTPVerifier struct {
	endpoint string
	secret   string
	timeout  time.Duration
	client   *retryablehttp.Client
	logger   logging.Logger
}

// NewHTTPVerifier builds a verifier that gives each call at most timeout and
// never retries.
func NewHTTPVerifier(endpoint, secret string, timeout time.Duration, logger logging.Logger) (*HTTPVerifier, error) {
	if endpoint == "" {
		return nil, errors.New("challenge verify URL is empty")
	}
	if secret == "" {
		return nil, errors.New("challenge secret is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.HTTPClient.Timeout = timeout

	return &HTTPVerifier{
		endpoint: endpoint,
		secret:   secret,
		timeout:  timeout,
		client:   client,
		logger:   logger.With("module", "challenge"),
	}, nil
}

func (v *HTTPVerifier) Verify(ctx context.Context, proof, remoteAddr string) error {
	if strings.TrimSpace(proof) == "" {
		return common.ErrChallengeFailed
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", proof)
	if remoteAddr != "" {
		form.Set("remoteip", remoteAddr)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUpstreamVerifier, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn(ctx, "siteverify request failed", "error", err)
		return fmt.Errorf("%w: %v", common.ErrUpstreamVerifier, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		v.logger.Warn(ctx, "siteverify returned unexpected status", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", common.ErrUpstreamVerifier, resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode: %v", common.ErrUpstreamVerifier, err)
	}
	if !out.Success {
		v.logger.Debug(ctx, "challenge rejected", "codes", out.ErrorCodes)
		return common.ErrChallengeFailed
	}
	return nil
}
