// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func respond(code int, body string) *http.Response {
	recorder := httptest.NewRecorder()
	recorder.WriteHeader(code)
	recorder.WriteString(body)
	return recorder.Result()
}

func TestCheckStatus(t *testing.T) {
	if err := CheckStatus(respond(http.StatusNoContent, "")); err != nil {
		t.Errorf("204: err = %v, want nil", err)
	}

	err := CheckStatus(respond(http.StatusInsufficientStorage, "quota exceeded\n"))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusInsufficientStorage || statusErr.Body != "quota exceeded" {
		t.Errorf("StatusError = %+v", statusErr)
	}
	if got, want := err.Error(), "507 Insufficient Storage: quota exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCheckStatusTruncatesBody(t *testing.T) {
	err := CheckStatus(respond(http.StatusBadGateway, strings.Repeat("x", 4*maxErrorBody)))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if len(statusErr.Body) != maxErrorBody {
		t.Errorf("body length = %d, want %d", len(statusErr.Body), maxErrorBody)
	}
}

func TestDecodeJSON(t *testing.T) {
	var mods []struct {
		TechnicalName string `json:"technical_name"`
	}
	if err := DecodeJSON(respond(http.StatusOK, `[{"technical_name":"tacc"}]`), &mods); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(mods) != 1 || mods[0].TechnicalName != "tacc" {
		t.Errorf("mods = %+v", mods)
	}

	if err := DecodeJSON(respond(http.StatusOK, `not json`), &mods); err == nil {
		t.Error("expected error for invalid JSON")
	}

	var statusErr *StatusError
	if err := DecodeJSON(respond(http.StatusNotFound, `{"error":"gone"}`), &mods); !errors.As(err, &statusErr) {
		t.Errorf("404: err = %v, want *StatusError", err)
	}
}

func TestDrain(t *testing.T) {
	body := strings.NewReader("leftover")
	Drain(body)
	if rest, _ := io.ReadAll(body); len(rest) != 0 {
		t.Errorf("left %q unread", rest)
	}
}
