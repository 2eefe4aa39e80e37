// Package files maps absolute paths referenced from documents to the image
// files that exist on disk, fingerprinting their contents on demand.
package files

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/cdn"
)

// Index resolves an absolute path to the local file behind it.
type Index interface {
	Lookup(absPath string) (asset.Local, bool)
}

// normalize cleans p and converts it to NFC so that paths typed in a
// document match paths reported by the file system regardless of how
// either side composed accented characters.
func normalize(p string) string {
	return norm.NFC.String(filepath.Clean(p))
}

// entry is one indexed file. The fingerprint is filled on first lookup.
type entry struct {
	once   sync.Once
	local  asset.Local
	hashed bool
}

// DirIndex indexes every image file below a root directory. Fingerprints
// are computed lazily and memoised, so files nobody references are never
// read. Safe for concurrent use.
type DirIndex struct {
	root    string
	entries map[string]*entry
}

// NewDirIndex walks root and records every file with an extension the CDN
// can transform.
func NewDirIndex(root string) (*DirIndex, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root: %w", err)
	}

	idx := &DirIndex{root: absRoot, entries: make(map[string]*entry)}
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != absRoot && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		local, ok := describe(path)
		if !ok {
			return nil
		}
		idx.entries[normalize(path)] = &entry{local: local}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", root, err)
	}
	return idx, nil
}

// Root returns the absolute directory the index was built from.
func (d *DirIndex) Root() string { return d.root }

// Len returns the number of indexed files.
func (d *DirIndex) Len() int { return len(d.entries) }

// Lookup implements Index.
func (d *DirIndex) Lookup(absPath string) (asset.Local, bool) {
	e, ok := d.entries[normalize(absPath)]
	if !ok {
		return asset.Local{}, false
	}
	e.once.Do(func() {
		fp, err := HashFile(e.local.AbsolutePath)
		if err != nil {
			return
		}
		e.local.Fingerprint = fp
		e.hashed = true
	})
	if !e.hashed {
		return asset.Local{}, false
	}
	return e.local, true
}

// ListIndex resolves paths against a fixed list of files whose
// fingerprints are already known.
type ListIndex []asset.Local

// Lookup implements Index with a linear scan.
func (l ListIndex) Lookup(absPath string) (asset.Local, bool) {
	want := normalize(absPath)
	for _, local := range l {
		if normalize(local.AbsolutePath) == want {
			return local, true
		}
	}
	return asset.Local{}, false
}

// describe splits path into the parts of an asset.Local. Files the CDN
// cannot transform are rejected.
func describe(path string) (asset.Local, bool) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if !cdn.SupportedExtension(strings.ToLower(strings.TrimPrefix(ext, "."))) {
		return asset.Local{}, false
	}
	return asset.Local{
		AbsolutePath: path,
		Name:         strings.TrimSuffix(base, ext),
		Extension:    strings.TrimPrefix(ext, "."),
	}, true
}

// HashFile computes the hex BLAKE3 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
