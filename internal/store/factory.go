// Package store selects a Storage adapter from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/clave-auth/clave/internal/store/core"
	"github.com/clave-auth/clave/internal/store/memory"
	"github.com/clave-auth/clave/internal/store/pg"
)

// Open returns the Storage for the configured driver.
// Supported drivers: "memory" (default), "postgres".
func Open(ctx context.Context, driver, dsn string) (core.Storage, func() error, error) {
	switch driver {
	case "", "memory":
		return memory.New(), func() error { return nil }, nil
	case "postgres", "pg":
		st, err := pg.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, func() error { st.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
