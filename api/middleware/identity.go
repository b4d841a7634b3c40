package middleware

import (
	"net/http"
	"strings"

	pkgAuth "github.com/angelmondragon/fhe-autopay/pkg/auth"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
)

// Identity reads an optional bearer token and seeds the request context with
// the connected account. Requests without a valid token continue anonymously;
// operations that need an account reject them downstream.
func Identity(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				if logg != nil {
					ctx := logg.WithField(r.Context(), "reason", err.Error())
					logg.Warn(ctx, "identity.token_rejected")
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithAccount(r.Context(), claims.Account())
			if logg != nil {
				ctx = logg.WithAccount(ctx, claims.Account())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
