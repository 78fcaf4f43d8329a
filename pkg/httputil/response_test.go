package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusNotFound, "NOT_FOUND", "missing")

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("want application/json, got %s", ct)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Code != "NOT_FOUND" || resp.Message != "missing" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Schemas []string `json:"schemas"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"schemas":["admin"]}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &body); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if len(body.Schemas) != 1 || body.Schemas[0] != "admin" {
		t.Errorf("unexpected schemas: %v", body.Schemas)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &body); err == nil {
		t.Error("expected error for unknown field")
	}
}
