package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zjrosen/agentdeck/internal/config"
)

// maxRecentDirs caps the recent-directories list.
const maxRecentDirs = 10

// RecentDirs persists recently used working directories, newest first,
// deduplicated, with home-relative paths stored as "~/...".
type RecentDirs struct {
	path string
	mu   sync.Mutex
}

// NewRecentDirs creates a store backed by the file at path.
func NewRecentDirs(path string) *RecentDirs {
	return &RecentDirs{path: path}
}

// List returns the recorded directories, newest first.
// A missing file means an empty list.
func (r *RecentDirs) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *RecentDirs) load() []string {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		dir := strings.TrimSpace(line)
		if dir == "" {
			continue
		}
		out = append(out, config.ContractHome(dir))
	}
	return out
}

// Record moves dir to the front of the list and persists it.
func (r *RecentDirs) Record(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir = config.ContractHome(dir)
	recent := r.load()
	filtered := make([]string, 0, len(recent)+1)
	filtered = append(filtered, dir)
	for _, d := range recent {
		if d != dir {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) > maxRecentDirs {
		filtered = filtered[:maxRecentDirs]
	}

	if parent := filepath.Dir(r.path); parent != "" && parent != "." {
		if err := os.MkdirAll(parent, 0700); err != nil {
			return fmt.Errorf("create recent dirs parent: %w", err)
		}
	}
	if err := os.WriteFile(r.path, []byte(strings.Join(filtered, "\n")), 0600); err != nil {
		return fmt.Errorf("write recent dirs: %w", err)
	}
	return nil
}
