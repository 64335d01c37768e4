package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager caches the loaded configuration, persists edits with a backup,
// and holds queued updates until a safe moment to apply them. All
// accessors return copies.
type Manager struct {
	path string

	mu       sync.RWMutex
	current  *Config
	lastHash string

	pendingMu sync.Mutex
	pending   *Config
}

// NewManager loads the configuration at path and returns a manager
// caching it.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if _, err := m.Load(); err != nil {
		return nil, fmt.Errorf("loading initial config: %w", err)
	}
	return m, nil
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.path
}

// Load re-reads the file and replaces the cached config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	hash, _ := HashFromPath(m.path)

	m.mu.Lock()
	m.current = cfg
	m.lastHash = hash
	m.mu.Unlock()
	return cfg.Copy(), nil
}

// Get returns a copy of the current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	cfg := m.current
	m.mu.RUnlock()
	return cfg.Copy()
}

// Reload re-reads the file only when its content hash changed since the
// last load, then returns the current config. The queue's config monitor
// calls this on its ~10s cadence, so file edits land without a restart.
// A file that fails to load keeps the previous config in effect.
func (m *Manager) Reload() *Config {
	m.mu.RLock()
	last := m.lastHash
	m.mu.RUnlock()

	if hash, err := HashFromPath(m.path); err == nil && hash != last {
		if _, err := m.Load(); err != nil {
			m.mu.Lock()
			m.lastHash = hash
			m.mu.Unlock()
		}
	}
	return m.Get()
}

// Save validates cfg, writes it to the config file with a .backup of the
// previous content, and replaces the cached config.
func (m *Manager) Save(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "config is nil"}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if original, err := os.ReadFile(m.path); err == nil {
		_ = os.WriteFile(m.path+".backup", original, 0644)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	m.mu.Lock()
	m.current = cfg.Copy()
	m.lastHash = HashFromBytes(data)
	m.mu.Unlock()
	return nil
}

// QueueUpdate stores a validated update to apply later.
func (m *Manager) QueueUpdate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "config is nil"}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.pendingMu.Lock()
	m.pending = cfg.Copy()
	m.pendingMu.Unlock()
	return nil
}

// PendingUpdate returns the queued update, if any.
func (m *Manager) PendingUpdate() (*Config, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pending == nil {
		return nil, false
	}
	return m.pending.Copy(), true
}

// ClearPendingUpdate drops the queued update.
func (m *Manager) ClearPendingUpdate() {
	m.pendingMu.Lock()
	m.pending = nil
	m.pendingMu.Unlock()
}

// ApplyPendingUpdate saves the queued update, if any, and clears it.
func (m *Manager) ApplyPendingUpdate() error {
	m.pendingMu.Lock()
	pending := m.pending
	m.pendingMu.Unlock()
	if pending == nil {
		return nil
	}
	if err := m.Save(pending); err != nil {
		return fmt.Errorf("applying pending config update: %w", err)
	}
	m.ClearPendingUpdate()
	return nil
}

// Digest returns a short fingerprint of the effective settings for the
// health endpoint.
func (m *Manager) Digest() string {
	cfg := m.Get()
	summary := fmt.Sprintf("version=%s concurrency=%d service=%s fallback=%t realTime=%t watch=%t",
		cfg.Version, cfg.MaxConcurrentDownloads, cfg.Service, cfg.Fallback, cfg.RealTime, cfg.Watch.Enabled)
	return HashFromBytes([]byte(summary))
}
