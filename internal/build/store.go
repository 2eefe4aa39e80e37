package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aellingwood/ucimg/internal/buildcache"
	"github.com/aellingwood/ucimg/internal/config"
)

// OpenStore opens the build cache backend named in cfg. A relative file
// cache directory is resolved against root.
func OpenStore(ctx context.Context, cfg config.CacheConfig, root string) (buildcache.Store, error) {
	switch cfg.Backend {
	case "", "file":
		dir := cfg.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		store, err := buildcache.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := buildcache.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
