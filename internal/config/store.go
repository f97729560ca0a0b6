package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pausarr/pausarr/internal/storage"
)

// ErrContainerNotManaged is returned for containers missing from the configuration.
var ErrContainerNotManaged = errors.New("container not managed")

// Store is the process-wide configuration provider. Every mutation is
// persisted before it returns.
type Store struct {
	mu   sync.RWMutex
	file *storage.FileStore
	cfg  Config
}

// NewStore loads the configuration from file. When the file does not exist
// yet, bootstrap is persisted and used instead.
func NewStore(file *storage.FileStore, bootstrap Config) (*Store, error) {
	s := &Store{file: file}

	cfg, found, err := s.read()
	if err != nil {
		return nil, err
	}
	if !found {
		cfg = bootstrap.Clone()
		cfg.Normalize()
		if err := file.Save(cfg); err != nil {
			return nil, fmt.Errorf("save initial config: %w", err)
		}
	}
	s.cfg = cfg
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.file.Path()
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// EnabledContainers returns the names of enabled managed containers.
func (s *Store) EnabledContainers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.EnabledContainers()
}

// Update applies fn to a copy of the configuration, normalises and persists
// the result. The in-memory configuration only changes if saving succeeds.
func (s *Store) Update(fn func(*Config) error) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := fn(&next); err != nil {
		return s.cfg.Clone(), err
	}
	next.Normalize()
	if err := s.file.Save(next); err != nil {
		return s.cfg.Clone(), fmt.Errorf("save config: %w", err)
	}
	s.cfg = next
	return next.Clone(), nil
}

// Apply persists a partial update.
func (s *Store) Apply(p Patch) (Config, error) {
	return s.Update(func(c *Config) error {
		p.Apply(c)
		return nil
	})
}

// SetEnabled toggles the global enable flag.
func (s *Store) SetEnabled(enabled bool) error {
	_, err := s.Update(func(c *Config) error {
		c.Enabled = enabled
		return nil
	})
	return err
}

// AddContainer adds or replaces a managed container.
func (s *Store) AddContainer(name string, enabled bool, description string) error {
	if name == "" {
		return errors.New("container name is empty")
	}
	_, err := s.Update(func(c *Config) error {
		c.Containers[name] = Container{Enabled: enabled, Description: description}
		return nil
	})
	return err
}

// RemoveContainer stops managing a container. Unknown names are ignored.
func (s *Store) RemoveContainer(name string) error {
	_, err := s.Update(func(c *Config) error {
		delete(c.Containers, name)
		return nil
	})
	return err
}

// SetContainerEnabled changes the enabled flag of a managed container.
func (s *Store) SetContainerEnabled(name string, enabled bool) error {
	_, err := s.Update(func(c *Config) error {
		settings, ok := c.Containers[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrContainerNotManaged, name)
		}
		settings.Enabled = enabled
		c.Containers[name] = settings
		return nil
	})
	return err
}

// ToggleContainer flips the enabled flag and returns the new value.
func (s *Store) ToggleContainer(name string) (bool, error) {
	var enabled bool
	_, err := s.Update(func(c *Config) error {
		settings, ok := c.Containers[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrContainerNotManaged, name)
		}
		settings.Enabled = !settings.Enabled
		enabled = settings.Enabled
		c.Containers[name] = settings
		return nil
	})
	return enabled, err
}

// Reload re-reads the backing file. It returns the previous and current
// configuration and whether anything changed. A missing file keeps the
// in-memory configuration.
func (s *Store) Reload() (prev, next Config, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.cfg.Clone()
	cfg, found, err := s.read()
	if err != nil {
		return prev, prev, false, err
	}
	if !found || cfg.Equal(s.cfg) {
		return prev, prev, false, nil
	}
	s.cfg = cfg
	return prev, cfg.Clone(), true, nil
}

func (s *Store) read() (Config, bool, error) {
	cfg := DefaultConfig()
	found, err := s.file.Load(&cfg)
	if err != nil {
		return Config{}, false, fmt.Errorf("load config: %w", err)
	}
	cfg.Normalize()
	return cfg, found, nil
}
