package build

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/aellingwood/ucimg/internal/content"
)

// renderParallel processes documents concurrently using a worker pool.
// The first error stops further work and is returned; a cancelled ctx
// stops workers from picking up new documents.
func renderParallel(ctx context.Context, docs []*content.Document, workers int, fn func(*content.Document) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if len(docs) == 0 {
		return nil
	}
	if workers > len(docs) {
		workers = len(docs)
	}

	jobs := make(chan *content.Document, len(docs))
	errCh := make(chan error, 1)
	var once sync.Once
	var wg sync.WaitGroup
	fail := func(err error) {
		once.Do(func() { errCh <- err })
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				if err := ctx.Err(); err != nil {
					fail(err)
					return
				}
				if err := fn(doc); err != nil {
					fail(fmt.Errorf("processing %s: %w", doc.RelPath, err))
					return
				}
			}
		}()
	}

	for _, d := range docs {
		jobs <- d
	}
	close(jobs)

	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return err
	}
	return nil
}

// filterDrafts drops draft documents and reports how many were dropped.
func filterDrafts(docs []*content.Document) ([]*content.Document, int) {
	kept := docs[:0:0]
	for _, d := range docs {
		if !d.Draft {
			kept = append(kept, d)
		}
	}
	return kept, len(docs) - len(kept)
}
