package uploadcare

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/aellingwood/ucimg/internal/asset"
)

// imagePaths lists where the image description lives, newest API first.
// The REST API nests it under content_info, the upload API reports it as
// image_info, and cached records written by other tools use camelCase.
var imagePaths = []string{
	"content_info.image",
	"contentInfo.image",
	"image_info",
	"imageInfo",
}

// ParseFile normalises a file record from either API into an asset.Remote.
func ParseFile(raw []byte) (asset.Remote, error) {
	if !gjson.ValidBytes(raw) {
		return asset.Remote{}, fmt.Errorf("uploadcare: invalid file record")
	}
	rec := gjson.ParseBytes(raw)

	id, err := uuid.Parse(rec.Get("uuid").String())
	if err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: file record uuid: %w", err)
	}

	remote := asset.Remote{
		ID:               id,
		OriginalFilename: originalFilename(rec),
		Fingerprint:      rec.Get("metadata.contentDigest").String(),
	}

	for _, p := range imagePaths {
		img := rec.Get(p)
		if !img.IsObject() {
			continue
		}
		remote.Width = int(img.Get("width").Int())
		remote.Height = int(img.Get("height").Int())
		remote.Sequence = img.Get("sequence").Bool()
		break
	}
	return remote, nil
}

// originalFilename prefers the last segment of the original file URL, which
// carries the name the CDN serves the file under.
func originalFilename(rec gjson.Result) string {
	if u := rec.Get("original_file_url").String(); u != "" {
		return u[strings.LastIndexByte(u, '/')+1:]
	}
	for _, key := range []string{"originalFilename", "original_filename", "filename"} {
		if name := rec.Get(key).String(); name != "" {
			return name
		}
	}
	return ""
}
