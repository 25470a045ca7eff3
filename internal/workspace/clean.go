package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Clean removes request directories. With an empty token it empties every
// root, otherwise it removes only root/token in each root. The roots
// themselves are kept. It returns the number of entries removed.
//
// Clean is an explicit maintenance operation; conversions never call it.
func Clean(ctx context.Context, roots Roots, token string) (int, error) {
	if token != "" {
		if err := ValidateToken(token); err != nil {
			return 0, err
		}
	}

	var removed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for _, root := range roots.All() {
		if root == "" {
			continue
		}
		g.Go(func() error {
			n, err := cleanRoot(ctx, root, token)
			removed.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	return int(removed.Load()), err
}

func cleanRoot(ctx context.Context, root, token string) (int, error) {
	if token != "" {
		dir := Path(root, token)
		if _, err := os.Lstat(dir); os.IsNotExist(err) {
			return 0, nil
		}
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		return 1, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", root, err)
	}

	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return n, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}
