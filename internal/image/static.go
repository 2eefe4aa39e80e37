package image

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/cdn"
)

// staticSegment is the URL directory that verbatim copies are served from.
const staticSegment = "static"

// StaticPath returns where the verbatim copy of local lives below dir. The
// fingerprint directory keeps equally named files apart.
func StaticPath(dir string, local asset.Local) string {
	return filepath.Join(dir, local.Fingerprint, local.FileName())
}

// StaticURL returns the public URL of the verbatim copy of local.
func StaticURL(pathPrefix string, local asset.Local) string {
	joined := cdn.JoinURL(pathPrefix, staticSegment, local.Fingerprint, local.FileName())
	return "/" + strings.TrimLeft(joined, "/")
}

// copyStatic places the verbatim copy of local below dir. Existing copies
// are kept since the fingerprint pins their contents.
func copyStatic(dir string, local asset.Local) error {
	if dir == "" {
		return fmt.Errorf("no static output directory configured")
	}
	dst := StaticPath(dir, local)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(local.AbsolutePath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
