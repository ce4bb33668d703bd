// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network helpers shared by the lobby
// client, the replay relay, the ICE adapter, the map store and the log
// uploader.
//
// HTTP helpers bound every body read at MaxResponseSize. They are for
// the JSON answers of the API and upload endpoints, not for map
// downloads, which are streamed.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxResponseSize bounds JSON response reads at 16 MB.
const MaxResponseSize int64 = 16 << 20

// maxErrorBody is how much of a failed response ends up in an error.
const maxErrorBody = 512

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Status
	}
	return e.Status + ": " + e.Body
}

// CheckStatus returns a *StatusError for a non-2xx response, with the
// start of its body for diagnostics. The body is consumed in that case.
func CheckStatus(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	return &StatusError{
		Code:   response.StatusCode,
		Status: response.Status,
		Body:   strings.TrimSpace(string(data)),
	}
}

// DecodeJSON checks the status of response and decodes at most
// MaxResponseSize bytes of its body into v.
func DecodeJSON(response *http.Response, v any) error {
	if err := CheckStatus(response); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Drain discards what is left of a body so the connection can be
// reused.
func Drain(body io.Reader) {
	io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}
