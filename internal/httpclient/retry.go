// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpclient provides small helpers around net/http: exponential
// retry on transient platform rejections and a JSON request codec.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts is the total number of tries for a transient
	// failure before giving up.
	DefaultMaxAttempts = 5
	// DefaultInitialInterval is the first retry delay.
	DefaultInitialInterval = 1 * time.Second
	// DefaultMaxInterval caps the retry delay.
	DefaultMaxInterval = 30 * time.Second
)

// TransientError marks an error as retryable. Platform APIs signal contention
// with HTTP 409 and rate limiting with HTTP 429; both are worth retrying.
type TransientError struct {
	Status int
	Err    error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient failure (status %d)", e.Status)
}

// Unwrap returns the wrapped error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransientStatus reports whether an HTTP status code should be retried.
func IsTransientStatus(code int) bool {
	return code == http.StatusConflict || code == http.StatusTooManyRequests
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NewDefaultBackOff returns the retry policy used for platform API calls:
// DefaultMaxAttempts tries with exponential delays between
// DefaultInitialInterval and DefaultMaxInterval.
func NewDefaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = DefaultInitialInterval
	bo.MaxInterval = DefaultMaxInterval
	return backoff.WithMaxRetries(bo, DefaultMaxAttempts-1)
}

// Retry runs op with the default back-off policy while it keeps returning
// transient errors. Non-transient errors abort immediately.
func Retry(ctx context.Context, op func() error) error {
	return RetryWithBackOff(ctx, NewDefaultBackOff(), op)
}

// RetryWithBackOff is Retry with a caller-supplied policy.
func RetryWithBackOff(ctx context.Context, bo backoff.BackOff, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// PostJSON posts the JSON encoding of in to url and decodes the response body
// into out. Transient statuses are retried with the default policy; any other
// non-2xx status fails with the response body in the error.
func PostJSON(ctx context.Context, client *http.Client, url string, headers http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	return Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request to %s failed: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response from %s: %w", url, err)
		}

		if IsTransientStatus(resp.StatusCode) {
			return &TransientError{Status: resp.StatusCode}
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("request to %s returned status %d: %s", url, resp.StatusCode, body)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
		return nil
	})
}
