package api

import "github.com/okian/tiara/pkg/logger"

const defaultMaxLimit = 100

type options struct {
	adminKey string
	maxLimit int
	logger   logger.Logger
}

// Option configures the API server.
type Option func(*options)

// WithAdminKey sets the key admin routes require in X-Admin-Key. An empty
// key disables the admin routes.
func WithAdminKey(key string) Option {
	return func(o *options) { o.adminKey = key }
}

// WithMaxLimit caps the limit accepted by list endpoints.
func WithMaxLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLimit = n
		}
	}
}

// WithLogger sets the logger used by handlers and middleware.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
