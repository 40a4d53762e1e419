package pagination

import (
	"context"
	"net/http"

	"github.com/inkfold/api/internal/platform/httpx"
)

type paramsKey struct{}

func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

func FromContext(ctx context.Context) (Params, bool) {
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// FromContextOrDefault returns the parsed params, or page 1 with DefaultLimit when
// the middleware did not run.
func FromContextOrDefault(ctx context.Context) Params {
	params, _ := FromContext(ctx)
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = DefaultLimit
	}
	return params
}

// Middleware parses page, limit and the allowed filters once per request. Parse
// failures go to onError; without one the request gets a 400 envelope.
func Middleware(opts Options, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, err := FromRequest(r, opts)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParams(r.Context(), params)))
		})
	}
}
