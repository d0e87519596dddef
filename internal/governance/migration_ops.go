package governance

import (
	"context"
	"fmt"

	"github.com/artpar/templategov/internal/core/datapath"
)

// Declarative migration steps. Each returns a MigrateFunc operating on the
// payload by dot path. Missing source paths are skipped with a warning rather
// than failing the run.

// Rename moves the value at from to to.
func Rename(from, to string) MigrateFunc {
	return func(_ context.Context, data any, mc *MigrationContext) (any, error) {
		moved, err := datapath.Move(data, from, to)
		if err != nil {
			return nil, fmt.Errorf("rename %s -> %s: %w", from, to, err)
		}
		if !moved {
			mc.Warn("rename %s -> %s: source path not present", from, to)
		}
		return data, nil
	}
}

// Set writes value at path, creating intermediate objects as needed.
func Set(path string, value any) MigrateFunc {
	return func(_ context.Context, data any, _ *MigrationContext) (any, error) {
		if err := datapath.Set(data, path, datapath.Clone(value)); err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
		return data, nil
	}
}

// Delete removes the value at path.
func Delete(path string) MigrateFunc {
	return func(_ context.Context, data any, mc *MigrationContext) (any, error) {
		if !datapath.Delete(data, path) {
			mc.Warn("delete %s: path not present", path)
		}
		return data, nil
	}
}

// Copy duplicates the value at from into to. The source stays in place.
func Copy(from, to string) MigrateFunc {
	return func(_ context.Context, data any, mc *MigrationContext) (any, error) {
		v, ok := datapath.Get(data, from)
		if !ok {
			mc.Warn("copy %s -> %s: source path not present", from, to)
			return data, nil
		}
		if err := datapath.Set(data, to, datapath.Clone(v)); err != nil {
			return nil, fmt.Errorf("copy %s -> %s: %w", from, to, err)
		}
		return data, nil
	}
}

// Chain runs fns in order, threading the payload through each.
func Chain(fns ...MigrateFunc) MigrateFunc {
	return func(ctx context.Context, data any, mc *MigrationContext) (any, error) {
		var err error
		for _, fn := range fns {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
			if data, err = fn(ctx, data, mc); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
}
