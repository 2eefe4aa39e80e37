package buildcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aellingwood/ucimg/internal/asset"
)

// ProjectFilesKey is the key the list of known CDN files is stored under.
const ProjectFilesKey = "cache-key-uploadcare-project-files"

// Assets is the persisted list of files known to exist in the CDN project.
type Assets struct {
	mu    sync.Mutex
	store Store
	key   string
}

// NewAssets returns the asset list kept in store under ProjectFilesKey.
func NewAssets(store Store) *Assets {
	return &Assets{store: store, key: ProjectFilesKey}
}

// Load returns every persisted asset. A missing entry is an empty list.
func (a *Assets) Load(ctx context.Context) ([]asset.Remote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

func (a *Assets) load(ctx context.Context) ([]asset.Remote, error) {
	raw, ok, err := a.store.Get(ctx, a.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var list []asset.Remote
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding cached project files: %w", err)
	}
	return list, nil
}

// Append adds r to the list, replacing an entry with the same ID.
func (a *Assets) Append(ctx context.Context, r asset.Remote) error {
	return a.Merge(ctx, []asset.Remote{r})
}

// Merge adds every asset in rs, replacing entries with the same ID and
// keeping the existing order otherwise.
func (a *Assets) Merge(ctx context.Context, rs []asset.Remote) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.load(ctx)
	if err != nil {
		return err
	}
	pos := make(map[string]int, len(list))
	for i, r := range list {
		pos[r.ID.String()] = i
	}
	for _, r := range rs {
		if i, ok := pos[r.ID.String()]; ok {
			list[i] = r
			continue
		}
		pos[r.ID.String()] = len(list)
		list = append(list, r)
	}
	return a.save(ctx, list)
}

// Clear forgets every persisted asset.
func (a *Assets) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Delete(ctx, a.key)
}

func (a *Assets) save(ctx context.Context, list []asset.Remote) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding project files: %w", err)
	}
	return a.store.Set(ctx, a.key, data)
}
