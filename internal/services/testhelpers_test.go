package services

import (
	"context"

	"github.com/go-chi/chi/v5"
)

func withRouteContext(ctx context.Context, rctx *chi.Context) context.Context {
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}
