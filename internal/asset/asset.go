// Package asset defines the two views of an image the pipeline works with:
// the file on local disk and the copy stored in the CDN project.
package asset

import (
	"strings"

	"github.com/google/uuid"
)

// Local is an image file found on disk. It is resolved once per reference
// and never mutated afterwards.
type Local struct {
	AbsolutePath string
	Name         string // base name without extension
	Extension    string // as written in the file name, without the leading dot
	Fingerprint  string // hex BLAKE3 digest of the file contents
}

// FileName returns the base name including the extension.
func (l Local) FileName() string {
	if l.Extension == "" {
		return l.Name
	}
	return l.Name + "." + l.Extension
}

// Remote is a file stored in the CDN project. There is exactly one Remote
// per distinct fingerprint.
type Remote struct {
	ID               uuid.UUID `json:"uuid"`
	OriginalFilename string    `json:"originalFilename"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
	Sequence         bool      `json:"sequence,omitempty"` // animated, served as video
	Fingerprint      string    `json:"contentDigest,omitempty"`
}

// HasDimensions reports whether the CDN knows the pixel size of the asset.
// Only images with dimensions can be laid out responsively.
func (r Remote) HasDimensions() bool {
	return r.Width > 0 && r.Height > 0
}

// Extension returns the lower-cased extension of the original file name.
func (r Remote) Extension() string {
	i := strings.LastIndexByte(r.OriginalFilename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(r.OriginalFilename[i+1:])
}
