package cache

import (
	"context"
	"fmt"
)

// Rename moves every entry of store src into a fresh store dst and drops
// src. Any existing dst is discarded first.
func Rename(ctx context.Context, storage Storage, src, dst string) error {
	if _, err := storage.Delete(ctx, dst); err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}

	from, err := storage.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}
	to, err := storage.Open(ctx, dst)
	if err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}

	keys, err := from.Keys(ctx)
	if err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}
	for _, k := range keys {
		resp, err := from.Match(ctx, k)
		if err != nil {
			return fmt.Errorf("rename %q to %q: %w", src, dst, err)
		}
		if resp == nil {
			continue
		}
		if err := to.Put(ctx, k, resp); err != nil {
			return fmt.Errorf("rename %q to %q: %w", src, dst, err)
		}
	}

	if _, err := storage.Delete(ctx, src); err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}
	return nil
}
