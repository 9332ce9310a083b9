package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	LLM     LLMConfig     `json:"llm"`
	Dialog  DialogConfig  `json:"dialog"`
	Storage StorageConfig `json:"storage"`
}

type ServerConfig struct {
	Port               int `json:"port"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
}

type LLMConfig struct {
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env"`
}

type DialogConfig struct {
	MaxTurns         int `json:"max_turns"`
	PerTurnTimeoutMs int `json:"per_turn_timeout_ms"`
	HistoryWindow    int `json:"history_window"`
	RetentionSec     int `json:"retention_sec"`
}

type StorageConfig struct {
	DataDir    string `json:"data_dir"`
	SubjectDir string `json:"subject_dir"`
}

// Manager loads, defaults, and persists the JSON configuration file.
type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	mgr := &Manager{path: path, cfg: defaultConfig()}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:               8080,
			ShutdownTimeoutSec: 5,
		},
		LLM: LLMConfig{
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Dialog: DialogConfig{
			MaxTurns:         8,
			PerTurnTimeoutMs: 8000,
			HistoryWindow:    3,
			RetentionSec:     3600,
		},
		Storage: StorageConfig{
			DataDir:    "output/db",
			SubjectDir: "output/subjects",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		cfg.Server.ShutdownTimeoutSec = 5
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.LLM.APIKeyEnv) == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Dialog.MaxTurns <= 0 {
		cfg.Dialog.MaxTurns = 8
	}
	if cfg.Dialog.PerTurnTimeoutMs <= 0 {
		cfg.Dialog.PerTurnTimeoutMs = 8000
	}
	if cfg.Dialog.HistoryWindow <= 0 {
		cfg.Dialog.HistoryWindow = 3
	}
	if cfg.Dialog.RetentionSec <= 0 {
		cfg.Dialog.RetentionSec = 3600
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = "output/db"
	}
	if strings.TrimSpace(cfg.Storage.SubjectDir) == "" {
		cfg.Storage.SubjectDir = "output/subjects"
	}
}
