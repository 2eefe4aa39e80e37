package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// NewNonce returns 16 random bytes, base64 encoded.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Policy holds the directives of a Content-Security-Policy header.
type Policy struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	MediaSrc       []string
	ConnectSrc     []string
	BaseURI        []string
	FrameAncestors []string
}

// String serializes the policy, skipping empty directives.
func (p *Policy) String() string {
	var directives []string
	add := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, name+" "+strings.Join(values, " "))
		}
	}
	add("default-src", p.DefaultSrc)
	add("script-src", p.ScriptSrc)
	add("style-src", p.StyleSrc)
	add("img-src", p.ImgSrc)
	add("media-src", p.MediaSrc)
	add("connect-src", p.ConnectSrc)
	add("base-uri", p.BaseURI)
	add("frame-ancestors", p.FrameAncestors)
	return strings.Join(directives, "; ")
}

// PreviewPolicy returns the policy for a previewed page. Rewritten images
// load from the CDN, animated ones play as video from it, and blur-up
// placeholders are data URIs in inline styles.
func PreviewPolicy(nonce, host, cdnBase string) *Policy {
	p := &Policy{
		DefaultSrc:     []string{"'none'"},
		ScriptSrc:      []string{"'self'", "'nonce-" + nonce + "'"},
		StyleSrc:       []string{"'self'", "'unsafe-inline'"},
		ImgSrc:         []string{"'self'", "data:"},
		MediaSrc:       []string{"'self'"},
		ConnectSrc:     []string{"'self'"},
		BaseURI:        []string{"'self'"},
		FrameAncestors: []string{"'none'"},
	}
	if host != "" {
		p.ConnectSrc = append(p.ConnectSrc, "ws://"+host, "wss://"+host)
	}
	if o := origin(cdnBase); o != "" {
		p.ImgSrc = append(p.ImgSrc, o)
		p.MediaSrc = append(p.MediaSrc, o)
	}
	return p
}

// origin reduces a base URL to scheme://host.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
