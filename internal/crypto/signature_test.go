// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, data []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACPrefix(t *testing.T) {
	t.Parallel()

	body := []byte(`{"action":"created"}`)
	secret := "it's a secret to everybody"

	require.NoError(t, VerifyHMACPrefix("sha256="+sign(t, secret, body), body, secret))

	err := VerifyHMACPrefix("sha256="+sign(t, "wrong", body), body, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	err = VerifyHMACPrefix(sign(t, secret, body), body, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature, "missing prefix must be rejected")

	err = VerifyHMACPrefix("", body, secret)
	assert.ErrorIs(t, err, ErrMissingSignature)

	err = VerifyHMACPrefix("sha256=nothex", body, secret)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyHMACHex(t *testing.T) {
	t.Parallel()

	body := []byte(`{"action":"update"}`)
	secret := "lin_wh_secret"

	require.NoError(t, VerifyHMACHex(sign(t, secret, body), body, secret))
	assert.ErrorIs(t, VerifyHMACHex(sign(t, "nope", body), body, secret), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHMACHex("", body, secret), ErrMissingSignature)
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()

	require.NoError(t, VerifyToken("glpat-token", "glpat-token"))
	assert.ErrorIs(t, VerifyToken("glpat-other", "glpat-token"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyToken("", "glpat-token"), ErrMissingSignature)
}

func TestVerifySlackSignature(t *testing.T) {
	t.Parallel()

	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{"type":"event_callback"}`)
	now := time.Unix(1700000000, 0)

	signedAt := func(ts int64) (string, string) {
		timestamp := fmt.Sprintf("%d", ts)
		base := fmt.Sprintf("v0:%s:%s", timestamp, body)
		return "v0=" + sign(t, secret, []byte(base)), timestamp
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		sig, ts := signedAt(now.Unix())
		require.NoError(t, VerifySlackSignature(sig, ts, body, secret, now))
	})

	t.Run("skew at window boundary accepts", func(t *testing.T) {
		t.Parallel()
		sig, ts := signedAt(now.Unix() - 300)
		require.NoError(t, VerifySlackSignature(sig, ts, body, secret, now))
	})

	t.Run("skew beyond window rejects", func(t *testing.T) {
		t.Parallel()
		sig, ts := signedAt(now.Unix() - 301)
		assert.ErrorIs(t, VerifySlackSignature(sig, ts, body, secret, now), ErrStaleTimestamp)
	})

	t.Run("future skew beyond window rejects", func(t *testing.T) {
		t.Parallel()
		sig, ts := signedAt(now.Unix() + 301)
		assert.ErrorIs(t, VerifySlackSignature(sig, ts, body, secret, now), ErrStaleTimestamp)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, ts := signedAt(now.Unix())
		base := fmt.Sprintf("v0:%s:%s", ts, body)
		sig := "v0=" + sign(t, "other", []byte(base))
		assert.ErrorIs(t, VerifySlackSignature(sig, ts, body, secret, now), ErrInvalidSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, VerifySlackSignature("", "", body, secret, now), ErrMissingSignature)
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, VerifySlackSignature("v0=aa", "yesterday", body, secret, now), ErrInvalidSignature)
	})
}
