package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgAuth "github.com/angelmondragon/fhe-autopay/pkg/auth"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "autopay-test", ExpirationMinutes: 5}

func mintToken(t *testing.T, cfg config.JWTConfig, account string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{Account: account})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serveIdentity(header string) (string, bool) {
	var account string
	var connected bool
	handler := Identity(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, connected = ContextIdentity{}.Current(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return account, connected
}

func TestIdentityAttachesAccount(t *testing.T) {
	account, ok := serveIdentity("Bearer " + mintToken(t, testJWT, "0xAAA"))
	if !ok || account != "0xAAA" {
		t.Fatalf("expected 0xAAA, got %q (%v)", account, ok)
	}
}

func TestIdentityFallsBackToAnonymous(t *testing.T) {
	other := config.JWTConfig{Secret: "other", Issuer: "autopay-test", ExpirationMinutes: 5}
	cases := map[string]string{
		"missing header": "",
		"garbage":        "Bearer not-a-jwt",
		"wrong secret":   "Bearer " + mintToken(t, other, "0xAAA"),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			if account, ok := serveIdentity(header); ok || account != "" {
				t.Fatalf("expected anonymous, got %q", account)
			}
		})
	}
}
