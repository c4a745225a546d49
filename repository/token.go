package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenSource supplies the bearer credential attached to every request.
// Obtaining the credential is the job of an external login flow.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed bearer credential. An empty token sends no header.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// FileTokenSource reads a bearer token from a file and re-reads it whenever
// the file changes, so a login helper can rotate the credential underneath a
// running client.
type FileTokenSource struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
	err   error

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewFileTokenSource loads path and starts watching it until ctx is done or
// Close is called. Either one releases the watcher; the last token read
// stays available.
func NewFileTokenSource(ctx context.Context, path string, logger *slog.Logger) (*FileTokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token file: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create token watcher: %w", err)
	}
	// Watch the directory: editors and secret mounts replace the file
	// rather than writing in place.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch token dir: %w", err)
	}

	s := &FileTokenSource{
		path:    abs,
		watcher: w,
		logger:  logger,
		done:    make(chan struct{}),
	}
	s.reload()

	go s.watch(ctx)
	return s, nil
}

// Token implements TokenSource.
func (s *FileTokenSource) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.err
}

// Close stops watching the token file. It is safe to call after ctx is done
// and more than once.
func (s *FileTokenSource) Close() error {
	err := s.closeWatcher()
	<-s.done
	return err
}

// Done is closed once the watcher has stopped.
func (s *FileTokenSource) Done() <-chan struct{} {
	return s.done
}

func (s *FileTokenSource) closeWatcher() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.watcher.Close()
	})
	return s.closeErr
}

func (s *FileTokenSource) reload() {
	data, err := os.ReadFile(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = fmt.Errorf("read token file: %w", err)
		return
	}
	s.token = strings.TrimSpace(string(data))
	s.err = nil
}

func (s *FileTokenSource) watch(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			if err := s.closeWatcher(); err != nil {
				s.logger.Warn("Failed to close token watcher", "path", s.path, "error", err)
			}
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			s.reload()
			s.logger.Debug("Reloaded bearer token", "path", s.path, "op", ev.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Token watcher error", "path", s.path, "error", err)
		}
	}
}
