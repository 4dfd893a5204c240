package rischooldata

import (
	"log/slog"

	"github.com/almartin82/rischooldata/internal/store"
)

type Option func(*Client)

// WithStore caches fetched tables in s and serves later fetches from it.
func WithStore(s store.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRefresh skips cached tables, both in the store and in the R package's
// own cache, and overwrites stored entries with fresh results.
func WithRefresh(refresh bool) Option {
	return func(c *Client) {
		c.refresh = refresh
	}
}

// WithStrictStore fails a fetch whose result could not be saved to the
// store. Without it save failures are logged and the table is still returned.
func WithStrictStore(strict bool) Option {
	return func(c *Client) {
		c.strictStore = strict
	}
}
