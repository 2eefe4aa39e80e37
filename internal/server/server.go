// Package server serves a built destination directory for local preview,
// reloading connected browsers after every rebuild.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// reloadPath is where browsers open the live reload socket.
const reloadPath = "/__ucimg/ws"

const shutdownTimeout = 5 * time.Second

// Options configures a preview Server.
type Options struct {
	Addr       string // host:port to listen on
	OutputDir  string
	CDNBase    string // allowed as an image and media source
	LiveReload bool
}

// Server serves the files below OutputDir with clean URLs.
type Server struct {
	opts Options
	hub  *Hub
	log  *zap.Logger
}

// New returns a Server for opts.
func New(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{opts: opts, hub: NewHub(logger), log: logger}
}

// Handler returns the HTTP handler serving pages and the reload socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.opts.LiveReload {
		mux.HandleFunc(reloadPath, s.hub.HandleWS)
	}
	mux.HandleFunc("/", s.handleRequest)
	return mux
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and disconnects reload clients.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("serving preview", zap.String("url", "http://"+ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Reload tells every connected browser to reload the page.
func (s *Server) Reload() {
	if s.opts.LiveReload {
		s.hub.Broadcast([]byte("reload"))
	}
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	file := s.resolve(r.URL.Path)
	if file == "" {
		s.notFound(w)
		return
	}
	data, err := os.ReadFile(file)
	if err != nil {
		s.notFound(w)
		return
	}

	ext := filepath.Ext(file)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("X-Content-Type-Options", "nosniff")

	if isHTML(ext, contentType) {
		nonce, err := NewNonce()
		if err != nil {
			s.log.Error("generating nonce", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.Set("Content-Security-Policy", PreviewPolicy(nonce, r.Host, s.opts.CDNBase).String())
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.opts.LiveReload {
			data = InjectLiveReload(data, nonce)
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// resolve maps a URL path to a file below the output directory: files are
// served as is, directories through their index.html, and extensionless
// paths through path.html. It returns "" when nothing matches.
func (s *Server) resolve(urlPath string) string {
	full := filepath.Join(s.opts.OutputDir, filepath.FromSlash(path.Clean("/"+urlPath)))

	if info, err := os.Stat(full); err == nil {
		if !info.IsDir() {
			return full
		}
		return existing(filepath.Join(full, "index.html"))
	}
	return existing(full + ".html")
}

func existing(file string) string {
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		return file
	}
	return ""
}

func (s *Server) notFound(w http.ResponseWriter) {
	data, err := os.ReadFile(filepath.Join(s.opts.OutputDir, "404.html"))
	if err != nil {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(data)
}

func isHTML(ext, contentType string) bool {
	if ext == ".html" || ext == ".htm" {
		return true
	}
	return bytes.HasPrefix([]byte(contentType), []byte("text/html"))
}
