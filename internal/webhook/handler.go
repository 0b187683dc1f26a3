// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// handleDelivery is the single entry point for all provider webhook routes.
// Deliveries are acknowledged with 202 as soon as they authenticate; parsing
// and dispatch happen asynchronously so slow downstream work never causes
// the platform to retry.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	name := providerName(r.URL.Path)
	logger := zerolog.Ctx(r.Context()).With().Str("provider", name).Logger()

	if s.draining.Load() {
		deliveriesTotal.WithLabelValues(name, "draining").Inc()
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	provider, ok := s.providers[name]
	if !ok {
		deliveriesTotal.WithLabelValues(name, "unknown_provider").Inc()
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		deliveriesTotal.WithLabelValues(name, "bad_request").Inc()
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	payload := unwrapEnvelope(r.Header.Get("Content-Type"), raw)

	// The chat platform probes new endpoints with a handshake that must be
	// echoed back synchronously, before any validation.
	if challenge, ok := verificationChallenge(payload); ok {
		deliveriesTotal.WithLabelValues(name, "handshake").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}

	if err := provider.ValidateWebhook(r, raw); err != nil {
		logger.Warn().Err(err).Msg("webhook delivery rejected")
		deliveriesTotal.WithLabelValues(name, "rejected").Inc()
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	deliveriesTotal.WithLabelValues(name, "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})

	headers := r.Header.Clone()
	ctx := context.WithoutCancel(r.Context())
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := provider.HandleWebhook(ctx, headers, payload, s.emit); err != nil {
			logger.Error().Err(err).Msg("webhook processing failed")
			deliveriesTotal.WithLabelValues(name, "failed").Inc()
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func providerName(path string) string {
	if idx := strings.LastIndex(path, "/webhook/"); idx >= 0 {
		return strings.Trim(path[idx+len("/webhook/"):], "/")
	}
	return ""
}

// unwrapEnvelope extracts the JSON document from form-encoded deliveries,
// which carry it in a "payload" field. JSON deliveries pass through.
func unwrapEnvelope(contentType string, raw []byte) []byte {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt != "application/x-www-form-urlencoded" {
		return raw
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return raw
	}
	if payload := values.Get("payload"); payload != "" {
		return []byte(payload)
	}
	return raw
}

// verificationChallenge detects the url_verification handshake.
func verificationChallenge(payload []byte) (string, bool) {
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	if probe.Type != "url_verification" || probe.Challenge == "" {
		return "", false
	}
	return probe.Challenge, true
}
