package providers

import (
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// oauthBearerMiddleware swaps the SDK's default x-api-key auth for an
// Authorization: Bearer header, for deployments that authenticate with a
// Claude subscription OAuth token rather than a raw API key.
func oauthBearerMiddleware(tokenSource func() (string, error)) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, err := tokenSource()
		if err != nil {
			return nil, fmt.Errorf("refreshing oauth token: %w", err)
		}
		req.Header.Del("X-Api-Key")
		req.Header.Set("Authorization", "Bearer "+token)
		return next(req)
	}
}
