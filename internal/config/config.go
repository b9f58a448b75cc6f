package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultWebhookPort      = 18791
	DefaultBufSize          = 100
	DefaultDedupWindow      = "12s"
	DefaultPruneEvery       = "1m"
	DefaultNoiseModulus     = 500
	DefaultHeartbeatEvery   = "10m"
	DefaultDiagnosticSource = "app.azzahra.sync.diagnostic"
	DefaultCollection       = "paymentDetectionsPending"
	DefaultUsersCollection  = "users"
	DefaultOwnerRole        = "owner"
	DefaultRingSize         = 200
	DefaultFlushEvery       = "30s"
)

// DefaultKeywords are the inbound-funds markers matched against
// notification text. Injected configuration, not contract.
var DefaultKeywords = []string{"masuk", "diterima"}

type Config struct {
	Watch     WatchConfig     `json:"watch"`
	Detect    DetectConfig    `json:"detect"`
	Session   SessionConfig   `json:"session"`
	Firestore FirestoreConfig `json:"firestore"`
	Channels  ChannelsConfig  `json:"channels"`
	Queue     QueueConfig     `json:"queue"`
	Diag      DiagConfig      `json:"diag"`
}

type WatchConfig struct {
	// Sources are watched source ids (notification package names).
	Sources []string `json:"sources"`
	// File optionally points at a newline-delimited source list that is
	// reloaded live, so the watch-set can change between events.
	File             string `json:"file,omitempty"`
	DiagnosticSource string `json:"diagnosticSource"`
}

type DetectConfig struct {
	Keywords       []string `json:"keywords"`
	DedupWindow    string   `json:"dedupWindow"`
	PruneEvery     string   `json:"pruneEvery"`
	NoiseModulus   int64    `json:"noiseModulus"`
	HeartbeatEvery string   `json:"heartbeatEvery"`
}

type SessionConfig struct {
	// OwnerID is the store-side account id of the logged-in session.
	OwnerID string `json:"ownerId"`
	IDToken string `json:"idToken,omitempty"`
}

type FirestoreConfig struct {
	ProjectID       string `json:"projectId"`
	APIKey          string `json:"apiKey,omitempty"`
	Collection      string `json:"collection"`
	UsersCollection string `json:"usersCollection"`
	OwnerRole       string `json:"ownerRole"`
	// BaseURL overrides the API endpoint (emulator, tests).
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	// AllowFrom lists accepted bearer tokens; empty allows any caller.
	AllowFrom []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type QueueConfig struct {
	// DBPath enables the sqlite offline queue when set.
	DBPath     string `json:"dbPath,omitempty"`
	FlushEvery string `json:"flushEvery,omitempty"`
}

type DiagConfig struct {
	RingSize int `json:"ringSize"`
}

func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			DiagnosticSource: DefaultDiagnosticSource,
		},
		Detect: DetectConfig{
			Keywords:       append([]string(nil), DefaultKeywords...),
			DedupWindow:    DefaultDedupWindow,
			PruneEvery:     DefaultPruneEvery,
			NoiseModulus:   DefaultNoiseModulus,
			HeartbeatEvery: DefaultHeartbeatEvery,
		},
		Firestore: FirestoreConfig{
			Collection:      DefaultCollection,
			UsersCollection: DefaultUsersCollection,
			OwnerRole:       DefaultOwnerRole,
		},
		Channels: ChannelsConfig{
			Webhook: WebhookConfig{
				Enabled: true,
				Host:    DefaultHost,
				Port:    DefaultWebhookPort,
			},
		},
		Queue: QueueConfig{
			FlushEvery: DefaultFlushEvery,
		},
		Diag: DiagConfig{
			RingSize: DefaultRingSize,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".azzahra-sync")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("AZZAHRA_FIRESTORE_PROJECT"); v != "" {
		cfg.Firestore.ProjectID = v
	}
	if v := os.Getenv("AZZAHRA_FIRESTORE_API_KEY"); v != "" {
		cfg.Firestore.APIKey = v
	}
	if v := os.Getenv("AZZAHRA_OWNER_ID"); v != "" {
		cfg.Session.OwnerID = v
	}
	if v := os.Getenv("AZZAHRA_ID_TOKEN"); v != "" {
		cfg.Session.IDToken = v
	}
	if v := os.Getenv("AZZAHRA_TELEGRAM_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("AZZAHRA_WATCH_FILE"); v != "" {
		cfg.Watch.File = v
	}
	if v := os.Getenv("AZZAHRA_QUEUE_DB_PATH"); v != "" {
		cfg.Queue.DBPath = v
	}
	if v := os.Getenv("AZZAHRA_WEBHOOK_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Channels.Webhook.Port = parsed
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Watch.DiagnosticSource == "" {
		cfg.Watch.DiagnosticSource = DefaultDiagnosticSource
	}
	if len(cfg.Detect.Keywords) == 0 {
		cfg.Detect.Keywords = append([]string(nil), DefaultKeywords...)
	}
	if cfg.Detect.DedupWindow == "" {
		cfg.Detect.DedupWindow = DefaultDedupWindow
	}
	if cfg.Detect.PruneEvery == "" {
		cfg.Detect.PruneEvery = DefaultPruneEvery
	}
	if cfg.Detect.NoiseModulus <= 0 {
		cfg.Detect.NoiseModulus = DefaultNoiseModulus
	}
	if cfg.Detect.HeartbeatEvery == "" {
		cfg.Detect.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if cfg.Firestore.Collection == "" {
		cfg.Firestore.Collection = DefaultCollection
	}
	if cfg.Firestore.UsersCollection == "" {
		cfg.Firestore.UsersCollection = DefaultUsersCollection
	}
	if cfg.Firestore.OwnerRole == "" {
		cfg.Firestore.OwnerRole = DefaultOwnerRole
	}
	if cfg.Channels.Webhook.Host == "" {
		cfg.Channels.Webhook.Host = DefaultHost
	}
	if cfg.Channels.Webhook.Port == 0 {
		cfg.Channels.Webhook.Port = DefaultWebhookPort
	}
	if cfg.Queue.FlushEvery == "" {
		cfg.Queue.FlushEvery = DefaultFlushEvery
	}
	if cfg.Diag.RingSize <= 0 {
		cfg.Diag.RingSize = DefaultRingSize
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// Duration parses a config duration string, falling back when empty
// or malformed.
func Duration(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
