package pg

import (
	"context"
	"io/fs"
	"sort"

	"github.com/clave-auth/clave/internal/store/core"
	migrations "github.com/clave-auth/clave/migrations/postgres"
)

// Migrate applies the embedded schema files in lexical order. Statements are
// written to be re-runnable, so calling this at every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return core.WrapStorage("migrate", err)
	}
	sort.Strings(entries)
	for _, name := range entries {
		b, err := migrations.FS.ReadFile(name)
		if err != nil {
			return core.WrapStorage("migrate", err)
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return core.WrapStorage("migrate "+name, err)
		}
	}
	return nil
}
