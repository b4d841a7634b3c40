package middleware

import "context"

type contextKey string

const ctxAccount contextKey = "account"

// AccountFromContext returns the connected account, or "" when anonymous.
func AccountFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAccount).(string); ok {
		return v
	}
	return ""
}

// WithAccount injects the connected account into the context.
func WithAccount(ctx context.Context, account string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAccount, account)
}

// ContextIdentity reports the account the Identity middleware attached.
type ContextIdentity struct{}

func (ContextIdentity) Current(ctx context.Context) (string, bool) {
	account := AccountFromContext(ctx)
	return account, account != ""
}
