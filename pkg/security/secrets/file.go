package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads one secret per file from a directory.
//
// Values are cached after the first read. When watching, a write, create,
// remove or rename of a file drops that file's cached value, so rotated
// secrets are picked up on the next lookup.
type FileProvider struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider creates a provider for dir, which must exist.
func NewFileProvider(dir string, watch bool) (*FileProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", dir)
	}

	p := &FileProvider{
		dir:    abs,
		logger: slog.Default().With("component", "secrets.file"),
		cache:  make(map[string]string),
	}

	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := w.Add(abs); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to watch secrets directory: %w", err)
		}
		p.watcher = w
		p.done = make(chan struct{})
		go p.watchLoop()
	}

	p.logger.Info("file secret provider started", "path", abs, "watch", watch)
	return p, nil
}

// Name implements Provider.
func (p *FileProvider) Name() string { return "file" }

// Lookup implements Provider. Surrounding whitespace, including the trailing
// newline most tools write, is trimmed.
func (p *FileProvider) Lookup(_ context.Context, name string) (string, error) {
	p.mu.RLock()
	v, ok := p.cache[name]
	p.mu.RUnlock()
	if ok {
		return v, nil
	}

	path, err := p.path(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, p.dir)
		}
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on secret %s: %o (expected 600 or 400)", name, mode)
	}

	// #nosec G304 - path is confined to the secrets directory above
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	v = strings.TrimSpace(string(data))

	p.mu.Lock()
	p.cache[name] = v
	p.mu.Unlock()

	return v, nil
}

// path maps name into the directory and rejects names that escape it.
func (p *FileProvider) path(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	path := filepath.Join(p.dir, name)
	if filepath.Dir(path) != p.dir {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return path, nil
}

// Forget drops the cached value of name.
func (p *FileProvider) Forget(name string) {
	p.mu.Lock()
	delete(p.cache, name)
	p.mu.Unlock()
}

// Close stops watching.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			name := filepath.Base(event.Name)
			p.Forget(name)
			p.logger.Debug("secret file changed", "name", shortName(name), "op", event.Op.String())

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("secret watcher error", "error", err)

		case <-p.done:
			return
		}
	}
}
