package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"xroute/pkg/types"
)

const (
	DefaultFileName = ".xroute-routes.json"
)

// FileStore keeps every route in one JSON file
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	routes   map[string]*types.Route
	log      *logrus.Entry
}

// routeFile represents the JSON structure on disk
type routeFile struct {
	Routes map[string]*types.Route `json:"routes"`
}

// NewFileStore opens the store at filePath, defaulting to the home directory
func NewFileStore(filePath string, log *logrus.Entry) (*FileStore, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &FileStore{
		filePath: filePath,
		routes:   make(map[string]*types.Route),
		log:      log,
	}

	if err := s.load(); err != nil {
		// a missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var file routeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal routes: %w", err)
	}
	if file.Routes != nil {
		s.routes = file.Routes
	}
	return nil
}

// flush writes all routes; the caller holds the write lock
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(routeFile{Routes: s.routes}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal routes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// write to a temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write routes: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Save stores a copy of route
func (s *FileStore) Save(_ context.Context, route *types.Route) error {
	if route == nil || route.ID == "" {
		return fmt.Errorf("route id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[route.ID] = route.Clone()
	if err := s.flush(); err != nil {
		return err
	}
	s.log.WithField("route", route.ID).Debug("route saved")
	return nil
}

// Load returns a copy of the route stored under id
func (s *FileStore) Load(_ context.Context, id string) (*types.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route, exists := s.routes[id]
	if !exists {
		return nil, fmt.Errorf("route '%s': %w", id, ErrNotFound)
	}
	return route.Clone(), nil
}

// List returns every route, most recently updated first
func (s *FileStore) List(_ context.Context) ([]*types.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := make([]*types.Route, 0, len(s.routes))
	for _, route := range s.routes {
		routes = append(routes, route.Clone())
	}
	sortRoutes(routes)
	return routes, nil
}

// Delete removes a route
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.routes[id]; !exists {
		return fmt.Errorf("route '%s': %w", id, ErrNotFound)
	}
	delete(s.routes, id)
	return s.flush()
}

// Path returns the storage file path
func (s *FileStore) Path() string {
	return s.filePath
}

func (s *FileStore) Close() error {
	return nil
}
