// Package assets keeps generated audio replies durable and publicly
// fetchable. The channel provider pulls audio by URL rather than accepting
// inline bytes, so every synthesized reply lands here first.
package assets

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Store writes media files to a local directory served by the gateway under
// /media/.
type Store struct {
	dir           string
	publicBaseURL string
	logger        *slog.Logger
}

func NewStore(dir, publicBaseURL string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create media directory %s: %w", dir, err)
	}
	return &Store{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// PutAudio stores audio bytes under name and returns the public URL.
func (s *Store) PutAudio(name string, data []byte) (string, error) {
	name = filepath.Base(name) // no path traversal
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media %s: %w", name, err)
	}
	url := s.publicBaseURL + "/media/" + name
	s.logger.Debug("media stored", "name", name, "bytes", len(data))
	return url, nil
}

// Handler serves stored media files. Mounted at /media/ on the gateway mux.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix("/media/", http.FileServer(http.Dir(s.dir)))
}
