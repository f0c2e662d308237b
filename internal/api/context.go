package api

import (
	"context"

	"github.com/org/credcore/internal/auth"
)

type contextKey string

const ctxKeyPrincipal contextKey = "principal"

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFromCtx(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal)
	return p, ok
}
