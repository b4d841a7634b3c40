package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
)

type sampleBody struct {
	Name   string  `json:"name" validate:"max=8"`
	Amount *uint64 `json:"amount" validate:"required"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"rent","amount":100}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Amount == nil || *body.Amount != 100 {
		t.Fatalf("unexpected amount %v", body.Amount)
	}
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"missing amount": `{"name":"rent"}`,
		"unknown field":  `{"amount":1,"extra":true}`,
		"negative":       `{"amount":-1}`,
		"name too long":  `{"name":"a very long name","amount":1}`,
		"malformed":      `{`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest("POST", "/", strings.NewReader(payload))
		var body sampleBody
		err := DecodeJSONBody(req, &body)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation code, got %v", name, err)
		}
	}
}

func TestDecodeJSONBodyFieldDetails(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"rent"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error")
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["amount"] != "is required" {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=20", nil)
	v, err := ParseQueryInt(req, "limit", 50, 1, 100)
	if err != nil || v != 20 {
		t.Fatalf("expected 20, got %d (%v)", v, err)
	}

	v, err = ParseQueryInt(httptest.NewRequest("GET", "/", nil), "limit", 50, 1, 100)
	if err != nil || v != 50 {
		t.Fatalf("expected default, got %d (%v)", v, err)
	}

	if _, err := ParseQueryInt(httptest.NewRequest("GET", "/?limit=abc", nil), "limit", 50, 1, 100); err == nil {
		t.Fatalf("expected non-numeric error")
	}
	if _, err := ParseQueryInt(httptest.NewRequest("GET", "/?limit=500", nil), "limit", 50, 1, 100); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  rent payment  ", 4); got != "rent" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
}
