// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto implements the webhook signature envelopes used by the
// providers. All comparisons are constant-time.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlackReplayWindow is the maximum accepted absolute skew between the request
// timestamp header and the current time. A skew of exactly the window is
// still accepted.
const SlackReplayWindow = 300 * time.Second

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("missing signature")
	// ErrInvalidSignature is returned when the signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrStaleTimestamp is returned when the request timestamp is outside
	// the replay window.
	ErrStaleTimestamp = errors.New("request timestamp outside replay window")
)

func hmacSHA256(secret string, data []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMACPrefix validates a "sha256=<hex>" style signature over the raw
// body, as used by GitHub-style webhooks.
func VerifyHMACPrefix(signature string, body []byte, secret string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("%w: expected sha256= prefix", ErrInvalidSignature)
	}
	return verifyHexDigest(sig, hmacSHA256(secret, body))
}

// VerifyHMACHex validates a bare hex HMAC-SHA256 signature over the raw body,
// as used by Linear-style webhooks.
func VerifyHMACHex(signature string, body []byte, secret string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	return verifyHexDigest(signature, hmacSHA256(secret, body))
}

// VerifyToken compares a shared token header against the configured secret in
// constant time, as used by GitLab-style webhooks.
func VerifyToken(token, secret string) error {
	if token == "" {
		return ErrMissingSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// VerifySlackSignature validates the replay-guarded chat envelope: the
// signature header holds "v0=<hex>" computed over "v0:<timestamp>:<body>".
func VerifySlackSignature(signature, timestamp string, body []byte, secret string, now time.Time) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, timestamp)
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > SlackReplayWindow {
		return ErrStaleTimestamp
	}

	sig, ok := strings.CutPrefix(signature, "v0=")
	if !ok {
		return fmt.Errorf("%w: expected v0= prefix", ErrInvalidSignature)
	}

	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	return verifyHexDigest(sig, hmacSHA256(secret, []byte(base)))
}

func verifyHexDigest(gotHex string, want []byte) error {
	got, err := hex.DecodeString(gotHex)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
