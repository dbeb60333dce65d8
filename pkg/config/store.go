package config

import (
	"reflect"
	"sync"
)

// Store is the shared handle to the active configuration. Readers get a
// copy; Replace swaps the whole value and tells subscribers what changed.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	subs []func(cfg Config, changed []string)
}

// NewStore creates a store holding cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns a copy of the active configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Mode returns the active control mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ControlMode
}

// Subscribe registers fn to run after every Replace that changed a key.
func (s *Store) Subscribe(fn func(cfg Config, changed []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Replace validates cfg and makes it active. It returns the changed keys.
func (s *Store) Replace(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := DetectChanges(s.cfg, cfg)
	s.cfg = cfg
	subs := append([]func(Config, []string){}, s.subs...)
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}
	logger.Info("configuration changed: %v", changed)
	for _, fn := range subs {
		fn(cfg, changed)
	}
	return changed, nil
}

// ReloadFromFile loads path and replaces the active configuration with it.
// On error the active configuration is kept.
func (s *Store) ReloadFromFile(path string) ([]string, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return s.Replace(cfg)
}

// DetectChanges returns the file keys whose values differ, in field order.
func DetectChanges(old, new Config) []string {
	var changed []string
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(new)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if ov.Field(i).Interface() != nv.Field(i).Interface() {
			changed = append(changed, t.Field(i).Tag.Get("toml"))
		}
	}
	return changed
}
