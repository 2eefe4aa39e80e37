// Package upload makes sure every distinct local file is stored in the CDN
// project at most once per build, however many documents reference it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/uploadcare"
)

const (
	// DNSRetryDelay is how long to wait before the single retry after a
	// name resolution failure.
	DNSRetryDelay = 5 * time.Second
	// MaxThrottleRetries bounds the retries after rate-limited responses.
	MaxThrottleRetries = 3
)

// Uploader stores file contents in the CDN project.
type Uploader interface {
	Upload(ctx context.Context, data []byte, fileName string, metadata map[string]string) (asset.Remote, error)
}

// AssetList is the persisted list of files known to exist in the project.
type AssetList interface {
	Load(ctx context.Context) ([]asset.Remote, error)
	Append(ctx context.Context, a asset.Remote) error
}

// Error reports a file that could not be uploaded.
type Error struct {
	Fingerprint string
	File        string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("uploading %s (%s): %v", e.File, e.Fingerprint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSleep replaces the function used to wait between retries.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// WithReadFile replaces the function used to read local files.
func WithReadFile(read func(string) ([]byte, error)) Option {
	return func(c *Coordinator) { c.readFile = read }
}

// result is the settled state of one fingerprint.
type result struct {
	remote asset.Remote
	err    error
}

// Coordinator resolves local files to CDN assets. A fingerprint is either
// absent, pending (an upload in flight that every caller shares), resolved
// or failed; a failure is remembered for the lifetime of the coordinator so
// one broken file is not retried by every document that references it.
// Create one per build.
type Coordinator struct {
	uploader Uploader
	list     AssetList
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	readFile func(string) ([]byte, error)

	loadOnce  sync.Once
	persisted map[string]asset.Remote

	mu      sync.Mutex
	settled map[string]result
	group   singleflight.Group

	uploads int
}

// New returns a Coordinator that uploads through uploader and remembers
// successful uploads in list.
func New(uploader Uploader, list AssetList, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		uploader: uploader,
		list:     list,
		logger:   logger,
		sleep:    sleepContext,
		readFile: os.ReadFile,
		settled:  make(map[string]result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Uploads returns how many uploads the coordinator has started.
func (c *Coordinator) Uploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads
}

// Resolve returns the CDN asset for local, uploading the file when no asset
// with the same fingerprint is known. Concurrent calls for one fingerprint
// share a single upload.
func (c *Coordinator) Resolve(ctx context.Context, local asset.Local) (asset.Remote, error) {
	fp := local.Fingerprint
	if fp == "" {
		return asset.Remote{}, &Error{File: local.AbsolutePath, Err: errors.New("file has no fingerprint")}
	}

	// The list is loaded once for the whole build, so a caller that is
	// already cancelled must not leave it empty for everyone else.
	c.loadOnce.Do(func() { c.loadPersisted(context.WithoutCancel(ctx)) })
	if r, ok := c.persisted[fp]; ok {
		return r, nil
	}

	if res, ok := c.lookup(fp); ok {
		return res.remote, res.err
	}

	v, _, _ := c.group.Do(fp, func() (any, error) {
		// A call that completed between lookup and Do has already settled.
		if res, ok := c.lookup(fp); ok {
			return res, nil
		}
		res := c.upload(ctx, local)
		c.mu.Lock()
		c.settled[fp] = res
		c.mu.Unlock()
		return res, nil
	})
	res := v.(result)
	return res.remote, res.err
}

func (c *Coordinator) lookup(fp string) (result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.settled[fp]
	return res, ok
}

func (c *Coordinator) loadPersisted(ctx context.Context) {
	c.persisted = make(map[string]asset.Remote)
	if c.list == nil {
		return
	}
	list, err := c.list.Load(ctx)
	if err != nil {
		c.logger.Warn("loading cached project files failed", zap.Error(err))
		return
	}
	for _, r := range list {
		if r.Fingerprint == "" {
			continue
		}
		if _, dup := c.persisted[r.Fingerprint]; !dup {
			c.persisted[r.Fingerprint] = r
		}
	}
	c.logger.Debug("loaded cached project files", zap.Int("count", len(c.persisted)))
}

func (c *Coordinator) upload(ctx context.Context, local asset.Local) result {
	fail := func(err error) result {
		return result{err: &Error{Fingerprint: local.Fingerprint, File: local.FileName(), Err: err}}
	}

	data, err := c.readFile(local.AbsolutePath)
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	c.uploads++
	c.mu.Unlock()

	meta := map[string]string{"contentDigest": local.Fingerprint}
	dnsRetried := false
	throttled := 0
	for {
		remote, err := c.uploader.Upload(ctx, data, local.FileName(), meta)
		if err == nil {
			if remote.Fingerprint == "" {
				remote.Fingerprint = local.Fingerprint
			}
			c.logger.Info("uploaded image",
				zap.String("file", local.FileName()),
				zap.String("uuid", remote.ID.String()))
			if c.list != nil {
				if err := c.list.Append(ctx, remote); err != nil {
					c.logger.Warn("caching uploaded file failed", zap.String("file", local.FileName()), zap.Error(err))
				}
			}
			return result{remote: remote}
		}

		var dnsErr *net.DNSError
		var apiErr *uploadcare.APIError
		var delay time.Duration
		switch {
		case errors.As(err, &dnsErr) && !dnsRetried:
			dnsRetried = true
			delay = DNSRetryDelay
		case errors.As(err, &apiErr) && apiErr.Throttled() && throttled < MaxThrottleRetries:
			throttled++
			delay = retryAfter(apiErr.RetryAfter)
		default:
			return fail(err)
		}

		c.logger.Debug("retrying upload",
			zap.String("file", local.FileName()),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return fail(err)
		}
	}
}

// retryAfter converts a Retry-After hint into whole seconds, never less
// than one.
func retryAfter(secs float64) time.Duration {
	n := math.Ceil(secs)
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
