// Package uploadcare talks to the Uploadcare upload and REST APIs: it stores
// local files in a project and lists the files already stored there.
package uploadcare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aellingwood/ucimg/internal/asset"
)

const (
	DefaultUploadBase = "https://upload.uploadcare.com"
	DefaultAPIBase    = "https://api.uploadcare.com"

	defaultHTTPTimeout = 60 * time.Second
	restAccept         = "application/vnd.uploadcare-v0.7+json"
	listPageSize       = 1000
)

// Config describes how to reach a project.
type Config struct {
	PublicKey  string
	SecretKey  string // only needed for ListFiles
	UploadBase string
	APIBase    string
	UserAgent  string
	HTTPClient *http.Client
}

// Client wraps the Uploadcare upload API and the REST files API.
type Client struct {
	pubKey     string
	secretKey  string
	uploadBase *url.URL
	apiBase    *url.URL
	userAgent  string
	http       *http.Client
}

// APIError is a non-success response from either API. RetryAfter is the
// server's Retry-After hint in seconds, zero when absent.
type APIError struct {
	StatusCode int
	RetryAfter float64
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("uploadcare: status %d", e.StatusCode)
	}
	return fmt.Sprintf("uploadcare: status %d: %s", e.StatusCode, e.Detail)
}

// Throttled reports whether the request was rejected by rate limiting.
func (e *APIError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	pub := strings.TrimSpace(cfg.PublicKey)
	if pub == "" {
		return nil, errors.New("uploadcare: public key is required")
	}
	uploadBase, err := parseBase(cfg.UploadBase, DefaultUploadBase)
	if err != nil {
		return nil, fmt.Errorf("uploadcare: parse upload base: %w", err)
	}
	apiBase, err := parseBase(cfg.APIBase, DefaultAPIBase)
	if err != nil {
		return nil, fmt.Errorf("uploadcare: parse api base: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "ucimg"
	}
	return &Client{
		pubKey:     pub,
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		uploadBase: uploadBase,
		apiBase:    apiBase,
		userAgent:  ua,
		http:       client,
	}, nil
}

func parseBase(raw, fallback string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	return url.Parse(strings.TrimSpace(raw))
}

// Upload stores data in the project under fileName with the given metadata
// and returns the stored file's description.
func (c *Client) Upload(ctx context.Context, data []byte, fileName string, metadata map[string]string) (asset.Remote, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"UPLOADCARE_PUB_KEY": c.pubKey,
		"UPLOADCARE_STORE":   "auto",
	}
	for k, v := range metadata {
		fields["metadata["+k+"]"] = v
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return asset.Remote{}, fmt.Errorf("uploadcare: write field %s: %w", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBase.JoinPath("base/").String(), &body)
	if err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(req)
	if err != nil {
		return asset.Remote{}, err
	}
	id := gjson.GetBytes(raw, "file").String()
	if id == "" {
		return asset.Remote{}, fmt.Errorf("uploadcare: upload response has no file id")
	}
	return c.Info(ctx, id)
}

// Info fetches the description of a file through the upload API.
func (c *Client) Info(ctx context.Context, id string) (asset.Remote, error) {
	endpoint := c.uploadBase.JoinPath("info/")
	endpoint.RawQuery = url.Values{"pub_key": {c.pubKey}, "file_id": {id}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return asset.Remote{}, fmt.Errorf("uploadcare: build info request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return asset.Remote{}, err
	}
	return ParseFile(raw)
}

// ListFiles returns every file stored in the project, following the REST
// API's pagination. Records that cannot be parsed are skipped.
func (c *Client) ListFiles(ctx context.Context) ([]asset.Remote, error) {
	if c.secretKey == "" {
		return nil, errors.New("uploadcare: secret key is required to list files")
	}
	endpoint := c.apiBase.JoinPath("files/")
	endpoint.RawQuery = url.Values{"limit": {strconv.Itoa(listPageSize)}}.Encode()

	var files []asset.Remote
	next := endpoint.String()
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("uploadcare: build list request: %w", err)
		}
		req.Header.Set("Accept", restAccept)
		req.Header.Set("Authorization", "Uploadcare.Simple "+c.pubKey+":"+c.secretKey)

		raw, err := c.do(req)
		if err != nil {
			return nil, err
		}
		for _, rec := range gjson.GetBytes(raw, "results").Array() {
			f, err := ParseFile([]byte(rec.Raw))
			if err != nil {
				continue
			}
			files = append(files, f)
		}
		next = gjson.GetBytes(raw, "next").String()
	}
	return files, nil
}

// do sends req and returns the body of a 2xx response. Other statuses
// become *APIError; transport failures are returned wrapped so callers can
// inspect them with errors.As.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploadcare: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("uploadcare: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			apiErr.RetryAfter = secs
		}
	}
	if gjson.ValidBytes(body) {
		if detail := gjson.GetBytes(body, "detail").String(); detail != "" {
			apiErr.Detail = detail
			return apiErr
		}
		if detail := gjson.GetBytes(body, "error.content").String(); detail != "" {
			apiErr.Detail = detail
			return apiErr
		}
	}
	apiErr.Detail = strings.TrimSpace(string(body))
	if len(apiErr.Detail) > 512 {
		apiErr.Detail = apiErr.Detail[:512]
	}
	return apiErr
}
