package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgauth "github.com/angelmondragon/fhe-autopay/pkg/auth"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
)

func TestAuthTokenMintsParsableToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "autopay-test", ExpirationMinutes: 30}

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"account":" 0xAAA "}`))
	AuthToken(cfg, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var out tokenResponse
	decodeData(t, resp, &out)
	if out.Account != "0xAAA" || out.ExpiresIn != 1800 {
		t.Fatalf("unexpected response %+v", out)
	}

	claims, err := pkgauth.ParseAccessToken(cfg, out.AccessToken)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Account() != "0xAAA" {
		t.Fatalf("unexpected account claim %q", claims.Account())
	}
}

func TestAuthTokenRejectsBlankAccount(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "autopay-test", ExpirationMinutes: 30}

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"account":"   "}`))
	AuthToken(cfg, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
