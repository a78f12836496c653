// Package config provides a manager for the form catalog: the option lists offered on the
// confirmation form. The catalog is loaded from a TOML file and reloaded when the file changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/uniconfirm/confirm/internal/common/constants"
)

// Provider is an interface that defines methods to access the form catalog.
type Provider interface {
	FormVersion() string
	Levels() []string
	Events() []string
	TimeSlots() []string
}

// Catalog represents the catalog file structure.
type Catalog struct {
	FormVersion string   `toml:"form_version"`
	Levels      []string `toml:"levels"`
	Events      []string `toml:"events"`
	TimeSlots   []string `toml:"time_slots"`
}

// DefaultCatalog returns the built-in catalog, used when no file is configured
// and as the base for keys missing from a file.
func DefaultCatalog() Catalog {
	return Catalog{
		FormVersion: constants.DefaultFormVersion,
		Levels:      []string{"Diploma", "Certificate", "Bachelors", "Masters"},
		Events:      []string{"Webinar", "In-person Fair", "Online Fair"},
		TimeSlots:   []string{"10 AM - 11 AM", "11 AM - 12 PM", "2 PM - 3 PM"},
	}
}

// Manager is a struct that manages the form catalog.
type Manager struct {
	catalog     Catalog
	lock        sync.RWMutex
	catalogPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a new catalog manager with the specified path.
// An empty path means the built-in catalog is served and never reloaded.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		catalog:     DefaultCatalog(),
		catalogPath: path,
		log:         opts.Logger,
	}
}

// Load reads the catalog from the specified file and updates the internal state.
// On error, the previously loaded catalog is kept.
func (cm *Manager) Load() error {
	if cm.catalogPath == "" {
		return nil
	}

	newCatalog := DefaultCatalog()
	if _, err := toml.DecodeFile(cm.catalogPath, &newCatalog); err != nil {
		return fmt.Errorf("decoding catalog TOML: %w", err)
	}
	if err := newCatalog.validate(); err != nil {
		return fmt.Errorf("invalid catalog %s: %w", cm.catalogPath, err)
	}

	cm.lock.Lock()
	cm.catalog = newCatalog
	cm.lock.Unlock()

	cm.log.Info("Form catalog loaded", "catalog", newCatalog)
	return nil
}

// Watch starts watching the catalog file for changes.
//
// It returns two channels: one for catalog changes which result in a successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	if cm.catalogPath == "" {
		return nil, nil, fmt.Errorf("no catalog file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	catalogDir, _ := filepath.Split(cm.catalogPath)
	if catalogDir == "" {
		catalogDir = "."
	}
	if err := watcher.Add(catalogDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", catalogDir, err)
	}

	cm.log.Info("Watching catalog directory", "dir", catalogDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial catalog", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Catalog watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != filepath.Clean(cm.catalogPath) {
					continue
				}

				cm.log.Debug("Catalog file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading catalog", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// CatalogPath returns the path of the catalog file, empty when the built-in catalog is used.
func (cm *Manager) CatalogPath() string {
	return cm.catalogPath
}

// FormVersion returns the form version recorded in submission metadata.
func (cm *Manager) FormVersion() string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.catalog.FormVersion
}

// Levels returns the recruitment levels offered on the form.
func (cm *Manager) Levels() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return slices.Clone(cm.catalog.Levels)
}

// Events returns the events offered on the form.
func (cm *Manager) Events() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return slices.Clone(cm.catalog.Events)
}

// TimeSlots returns the preferred time slots offered on the form.
func (cm *Manager) TimeSlots() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return slices.Clone(cm.catalog.TimeSlots)
}

func (c Catalog) validate() error {
	if c.FormVersion == "" {
		return errors.New("form_version cannot be empty")
	}
	for name, list := range map[string][]string{"levels": c.Levels, "events": c.Events, "time_slots": c.TimeSlots} {
		if len(list) == 0 {
			return fmt.Errorf("%s cannot be empty", name)
		}
		seen := make(map[string]struct{}, len(list))
		for _, v := range list {
			if v == "" {
				return fmt.Errorf("%s contains an empty option", name)
			}
			if _, dup := seen[v]; dup {
				return fmt.Errorf("%s contains %q twice", name, v)
			}
			seen[v] = struct{}{}
		}
	}
	return nil
}
