// Package config handles loading, validating, and decoding the ucimg
// configuration file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/aellingwood/ucimg/internal/buildcache"
	"github.com/aellingwood/ucimg/internal/cdn"
)

// Config is the top-level configuration for a build.
type Config struct {
	Source      string           `yaml:"source"      mapstructure:"source"`
	Destination string           `yaml:"destination" mapstructure:"destination"`
	PathPrefix  string           `yaml:"pathPrefix"  mapstructure:"pathPrefix"`
	Layout      string           `yaml:"layout"      mapstructure:"layout"`
	Workers     int              `yaml:"workers"     mapstructure:"workers"`
	Concurrency int              `yaml:"concurrency" mapstructure:"concurrency"`
	Drafts      bool             `yaml:"drafts"      mapstructure:"drafts"`
	Log         LogConfig        `yaml:"log"         mapstructure:"log"`
	Cache       CacheConfig      `yaml:"cache"       mapstructure:"cache"`
	Uploadcare  UploadcareConfig `yaml:"uploadcare"  mapstructure:"uploadcare"`
	Highlight   HighlightConfig  `yaml:"highlight"   mapstructure:"highlight"`
	Images      ImageOptions     `yaml:"images"      mapstructure:"images"`
	Deploy      DeployConfig     `yaml:"deploy"      mapstructure:"deploy"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"  mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CacheConfig selects where uploaded file records are persisted.
type CacheConfig struct {
	Backend string                 `yaml:"backend" mapstructure:"backend"`
	Dir     string                 `yaml:"dir"     mapstructure:"dir"`
	Redis   buildcache.RedisConfig `yaml:"redis"   mapstructure:"redis"`
}

// UploadcareConfig holds the service endpoints.
type UploadcareConfig struct {
	CDNBase    string `yaml:"cdnBase"    mapstructure:"cdnBase"`
	UploadBase string `yaml:"uploadBase" mapstructure:"uploadBase"`
	APIBase    string `yaml:"apiBase"    mapstructure:"apiBase"`
	Prefetch   bool   `yaml:"prefetch"   mapstructure:"prefetch"`
}

// HighlightConfig controls syntax highlighting behaviour.
type HighlightConfig struct {
	Style       string `yaml:"style"       mapstructure:"style"`
	LineNumbers bool   `yaml:"lineNumbers" mapstructure:"lineNumbers"`
}

// DeployConfig names the bucket the destination is published to.
type DeployConfig struct {
	Bucket       string `yaml:"bucket"       mapstructure:"bucket"`
	Region       string `yaml:"region"       mapstructure:"region"`
	Prefix       string `yaml:"prefix"       mapstructure:"prefix"`
	Distribution string `yaml:"distribution" mapstructure:"distribution"`
	Prune        bool   `yaml:"prune"        mapstructure:"prune"`
}

// Validate checks the settings a deploy needs. Builds never call it.
func (d *DeployConfig) Validate() error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.Bucket, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("config: deploy: %w", err)
	}
	return nil
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Source:      "content",
		Destination: "public",
		Concurrency: 8,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Cache: CacheConfig{
			Backend: "file",
			Dir:     filepath.Join(".ucimg", "cache"),
			Redis: buildcache.RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ucimg:",
			},
		},
		Uploadcare: UploadcareConfig{
			CDNBase:    "https://ucarecdn.com",
			UploadBase: "https://upload.uploadcare.com",
			APIBase:    "https://api.uploadcare.com",
			Prefetch:   true,
		},
		Highlight: HighlightConfig{
			Style: "github",
		},
		Images: DefaultImageOptions(),
	}
}

// envKeys are bound explicitly so they can be supplied through the
// environment even when the file does not mention them.
var envKeys = []string{
	"images.pubkey",
	"images.secretKey",
	"cache.backend",
	"cache.redis.addr",
	"cache.redis.password",
	"deploy.bucket",
	"log.level",
}

// Load reads a configuration file (YAML or TOML, chosen by extension) and
// returns a Config with defaults applied first and file values overlaid on
// top. Environment variables prefixed UCIMG_ override both. An empty
// configPath loads defaults and environment only. Load does not validate;
// call Validate before building.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("UCIMG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding environment for %s: %w", key, err)
		}
	}

	format := formatOf(configPath)
	if configPath != "" {
		v.SetConfigType(format)
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if configPath != "" {
		ops, found, err := orderedOperations(configPath, format)
		if err != nil {
			return nil, fmt.Errorf("reading image operations: %w", err)
		}
		if found {
			cfg.Images.ImageOperations = ops
		}
	}

	return cfg, nil
}

// formatOf maps a file extension to a viper config type. Unknown
// extensions are read as YAML.
func formatOf(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Validate checks the Config for errors that make a build impossible.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.Destination, validation.Required),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.Concurrency, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	err = validation.ValidateStruct(&c.Cache,
		validation.Field(&c.Cache.Backend, validation.Required, validation.In("file", "redis")),
		validation.Field(&c.Cache.Dir, validation.When(c.Cache.Backend == "file", validation.Required)),
	)
	if err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}

	err = validation.ValidateStruct(&c.Uploadcare,
		validation.Field(&c.Uploadcare.CDNBase, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("config: uploadcare: %w", err)
	}

	if err := c.Images.Validate(c.Uploadcare.Prefetch); err != nil {
		return fmt.Errorf("config: images: %w", err)
	}
	return nil
}

// WithOverrides applies CLI flag overrides to the config. Known keys are
// mapped to their corresponding struct fields. The modified config is
// returned for convenient chaining.
func (c *Config) WithOverrides(overrides map[string]any) *Config {
	for key, val := range overrides {
		switch key {
		case "source":
			if s, ok := val.(string); ok && s != "" {
				c.Source = s
			}
		case "destination":
			if s, ok := val.(string); ok && s != "" {
				c.Destination = s
			}
		case "workers":
			if n, ok := val.(int); ok && n > 0 {
				c.Workers = n
			}
		case "prefetch":
			if b, ok := val.(bool); ok {
				c.Uploadcare.Prefetch = b
			}
		case "drafts":
			if b, ok := val.(bool); ok {
				c.Drafts = b
			}
		case "logLevel":
			if s, ok := val.(string); ok && s != "" {
				c.Log.Level = s
			}
		}
	}
	return c
}

// Public returns a copy that is safe to print: credentials are removed.
func (c *Config) Public() *Config {
	out := *c
	out.Images = c.Images.Public()
	if out.Cache.Redis.Password != "" {
		out.Cache.Redis.Password = "********"
	}
	return &out
}

// ImageOptions controls how image references are turned into markup.
type ImageOptions struct {
	MaxWidth              int            `yaml:"maxWidth"              mapstructure:"maxWidth"`
	LinkImagesToOriginal  bool           `yaml:"linkImagesToOriginal"  mapstructure:"linkImagesToOriginal"`
	ShowCaptions          CaptionOrder   `yaml:"showCaptions"          mapstructure:"showCaptions"`
	MarkdownCaptions      bool           `yaml:"markdownCaptions"      mapstructure:"markdownCaptions"`
	WrapperStyle          CSS            `yaml:"wrapperStyle"          mapstructure:"wrapperStyle"`
	BackgroundColor       string         `yaml:"backgroundColor"       mapstructure:"backgroundColor"`
	Loading               string         `yaml:"loading"               mapstructure:"loading"`
	Decoding              string         `yaml:"decoding"              mapstructure:"decoding"`
	DisableBgImage        bool           `yaml:"disableBgImage"        mapstructure:"disableBgImage"`
	DisableBgImageOnAlpha bool           `yaml:"disableBgImageOnAlpha" mapstructure:"disableBgImageOnAlpha"`
	SrcSetBreakpoints     []float64      `yaml:"srcSetBreakpoints"     mapstructure:"srcSetBreakpoints"`
	Sizes                 string         `yaml:"sizes"                 mapstructure:"sizes"`
	EmptyAltMarker        string         `yaml:"emptyAltMarker"        mapstructure:"emptyAltMarker"`
	ImageOperations       cdn.Operations `yaml:"imageOperations"       mapstructure:"imageOperations"`
	Pubkey                string         `yaml:"pubkey"                mapstructure:"pubkey"`
	SecretKey             string         `yaml:"secretKey,omitempty"   mapstructure:"secretKey"`
}

// DefaultEmptyAltMarker is the alt text that asks for an explicitly empty
// alt attribute.
const DefaultEmptyAltMarker = "EMPTY_ALT"

// DefaultImageOptions returns the image defaults.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		MaxWidth:             650,
		LinkImagesToOriginal: true,
		BackgroundColor:      "white",
		Loading:              "lazy",
		Decoding:             "async",
		EmptyAltMarker:       DefaultEmptyAltMarker,
		ImageOperations:      cdn.DefaultOperations(),
	}
}

// Validate reports options that make image processing impossible.
// Credentials are required; the secret key only when the project file
// list is prefetched.
func (o *ImageOptions) Validate(prefetch bool) error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Pubkey, validation.Required.Error("pubkey is required")),
		validation.Field(&o.SecretKey, validation.When(prefetch,
			validation.Required.Error("secretKey is required to prefetch project files"))),
		validation.Field(&o.MaxWidth, validation.Required, validation.Min(1)),
		validation.Field(&o.SrcSetBreakpoints, validation.Each(validation.By(positive))),
	)
}

func positive(value any) error {
	f, ok := value.(float64)
	if !ok || f <= 0 {
		return errors.New("must be a positive number larger than zero")
	}
	return nil
}

var (
	loadingValues  = []string{"lazy", "eager", "auto"}
	decodingValues = []string{"async", "sync", "auto"}
)

// Warnings lists option values that are unusual but not fatal. They are
// used verbatim; the build logs each message once.
func (o *ImageOptions) Warnings() []string {
	var out []string
	if !contains(loadingValues, o.Loading) {
		out = append(out, fmt.Sprintf("loading %q is not one of %v", o.Loading, loadingValues))
	}
	if !contains(decodingValues, o.Decoding) {
		out = append(out, fmt.Sprintf("decoding %q is not one of %v", o.Decoding, decodingValues))
	}
	if _, err := ParseColor(o.BackgroundColor); err != nil {
		out = append(out, fmt.Sprintf("backgroundColor: %v; placeholders are not flattened", err))
	}
	for _, s := range o.ShowCaptions {
		if s != CaptionTitle && s != CaptionAlt {
			out = append(out, fmt.Sprintf("showCaptions entry %q is not one of [title alt] and is ignored", s))
		}
	}
	if o.EmptyAltMarker == "" {
		out = append(out, "emptyAltMarker is empty; images cannot request an empty alt attribute")
	}
	return out
}

// Public returns a copy without the secret key.
func (o ImageOptions) Public() ImageOptions {
	o.SecretKey = ""
	o.SrcSetBreakpoints = append([]float64(nil), o.SrcSetBreakpoints...)
	o.ImageOperations = append(cdn.Operations(nil), o.ImageOperations...)
	return o
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
