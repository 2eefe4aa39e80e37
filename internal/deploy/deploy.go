// Package deploy publishes a built destination directory to an S3 bucket,
// uploading only files whose content changed since the last deploy.
package deploy

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultConcurrency bounds parallel uploads when Options leaves it unset.
const DefaultConcurrency = 8

// Options controls a single deploy.
type Options struct {
	Prefix       string // key prefix inside the bucket, without leading slash
	Distribution string // CloudFront distribution invalidated afterwards; optional
	Prune        bool   // delete objects below Prefix that no longer exist locally
	DryRun       bool
	Concurrency  int
}

// Result summarises a deploy. In a dry run Uploaded and Deleted count what
// would have happened.
type Result struct {
	Uploaded    int
	Deleted     int
	Skipped     int
	Invalidated bool
	Errors      []error
}

// Entry is a local file scheduled for the bucket.
type Entry struct {
	Key          string
	Path         string // absolute path on disk
	ContentType  string
	CacheControl string
	ETag         string // hex MD5, which is what S3 reports for single-part uploads
}

// ObjectStore is the bucket a deploy writes to.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) error
	Delete(ctx context.Context, key string) error
	// List returns the ETag of every object below prefix, keyed by object key.
	List(ctx context.Context, prefix string) (map[string]string, error)
}

// Invalidator drops cached copies of paths from a CDN distribution.
type Invalidator interface {
	Invalidate(ctx context.Context, distribution string, paths []string) error
}

// ContentType returns the MIME type for a file extension including the dot.
func ContentType(ext string) string {
	switch ext = strings.ToLower(ext); ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "application/javascript; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".avif":
		return "image/avif"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// CacheControl returns the Cache-Control value for an object key relative
// to the deploy prefix. Files under static/ live in a directory named after
// their content fingerprint and never change.
func CacheControl(rel string) string {
	switch {
	case strings.HasPrefix(rel, "static/"):
		return "public, max-age=31536000, immutable"
	case strings.HasSuffix(rel, ".html") || strings.HasSuffix(rel, ".htm"):
		return "public, max-age=0, must-revalidate"
	case strings.HasSuffix(rel, ".css"):
		return "public, max-age=3600"
	default:
		return "public, max-age=86400"
	}
}

// ETag computes the hex MD5 of the file at path.
func ETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Scan lists the files below dir as entries keyed under prefix, sorted by
// key.
func Scan(dir, prefix string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		etag, err := ETag(p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Key:          objectKey(prefix, rel),
			Path:         p,
			ContentType:  ContentType(path.Ext(rel)),
			CacheControl: CacheControl(rel),
			ETag:         etag,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func objectKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// Diff returns the entries whose ETag differs from the remote one, and the
// sorted remote keys with no local counterpart.
func Diff(local []Entry, remote map[string]string) (upload []Entry, stale []string) {
	seen := make(map[string]bool, len(local))
	for _, e := range local {
		seen[e.Key] = true
		if etag, ok := remote[e.Key]; !ok || !strings.EqualFold(etag, e.ETag) {
			upload = append(upload, e)
		}
	}
	for key := range remote {
		if !seen[key] {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	return upload, stale
}

// Deploy mirrors dir into store:
//  1. Scan local files and list the bucket below the prefix
//  2. Upload new and changed files
//  3. Delete stale objects when pruning
//  4. Invalidate the distribution when one is configured and anything changed
//
// Per-object failures are collected in Result.Errors; only a failed scan or
// listing aborts the deploy.
func Deploy(ctx context.Context, dir string, opts Options, store ObjectStore, inv Invalidator, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	local, err := Scan(dir, opts.Prefix)
	if err != nil {
		return nil, err
	}
	listPrefix := strings.Trim(opts.Prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}
	remote, err := store.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing bucket: %w", err)
	}

	upload, stale := Diff(local, remote)
	if !opts.Prune {
		stale = nil
	}
	res := &Result{Skipped: len(local) - len(upload)}

	if opts.DryRun {
		for _, e := range upload {
			logger.Info("would upload", zap.String("key", e.Key))
		}
		for _, key := range stale {
			logger.Info("would delete", zap.String("key", key))
		}
		res.Uploaded, res.Deleted = len(upload), len(stale)
		return res, nil
	}

	n := opts.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	var mu sync.Mutex
	record := func(err error, count *int) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Errors = append(res.Errors, err)
			return
		}
		*count++
	}

	p := pool.New().WithMaxGoroutines(n)
	for _, e := range upload {
		p.Go(func() {
			err := put(ctx, store, e)
			if err == nil {
				logger.Debug("uploaded", zap.String("key", e.Key))
			}
			record(err, &res.Uploaded)
		})
	}
	p.Wait()

	for _, key := range stale {
		err := store.Delete(ctx, key)
		if err != nil {
			err = fmt.Errorf("deleting %s: %w", key, err)
		} else {
			logger.Debug("deleted", zap.String("key", key))
		}
		record(err, &res.Deleted)
	}

	if opts.Distribution != "" && inv != nil && res.Uploaded+res.Deleted > 0 {
		paths := []string{"/" + listPrefix + "*"}
		if err := inv.Invalidate(ctx, opts.Distribution, paths); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("invalidating %s: %w", opts.Distribution, err))
		} else {
			res.Invalidated = true
		}
	}

	logger.Info("deploy finished",
		zap.Int("uploaded", res.Uploaded),
		zap.Int("deleted", res.Deleted),
		zap.Int("unchanged", res.Skipped),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func put(ctx context.Context, store ObjectStore, e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := store.Put(ctx, e.Key, f, e.ContentType, e.CacheControl); err != nil {
		return fmt.Errorf("uploading %s: %w", e.Key, err)
	}
	return nil
}
