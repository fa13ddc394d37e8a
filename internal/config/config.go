// Package config provides configuration management for go-newsgate.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/toml"
)

var AppVersion = "-unset-" // will be set at build time

const (
	// NNTP protocol constants
	DOT  = "."
	CR   = "\r"
	LF   = "\n"
	CRLF = CR + LF

	// NNTPServer defaults
	NNTPServerMaxConns = 500 // Maximum concurrent NNTP connections

	// Default backoff settings
	DefaultInitialWait       = 1 * time.Second
	DefaultMaxRetries        = 8
	DefaultReconnectionPause = 60 * time.Second
	DefaultConstantWait      = 1 * time.Second

	// Default bundle settings
	DefaultBundleLifetime = 24 * time.Hour

	// Default janitor sleep
	DefaultJanitorSleep = 5 * time.Minute

	// DefaultWSPath is the default WebSocket path on the DTND daemon.
	DefaultWSPath = "/ws"
)

// Config is the root of the gateway's TOML configuration document.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	DTND    DTNDConfig    `toml:"dtnd"`
	Backoff BackoffConfig `toml:"backoff"`
	Bundles BundlesConfig `toml:"bundles"`
	Usenet  UsenetConfig  `toml:"usenet"`
	Janitor JanitorConfig `toml:"janitor"`

	AppVersion string `toml:"-"`
}

// BackendConfig holds the article store connection string.
type BackendConfig struct {
	DBURL string `toml:"db_url"`
}

// DTNDConfig describes how to reach the DTND daemon.
type DTNDConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	NodeID   string `toml:"node_id"`
	WSPath   string `toml:"ws_path"`
	RESTPath string `toml:"rest_path"`
}

// BackoffConfig parameterizes the reconnection supervisor.
type BackoffConfig struct {
	InitialWaitSeconds       float64 `toml:"initial_wait"`
	MaxRetries               int     `toml:"max_retries"`
	ReconnectionPauseSeconds float64 `toml:"reconnection_pause"`
	ConstantWaitSeconds      float64 `toml:"constant_wait"`
}

func (b BackoffConfig) InitialWait() time.Duration {
	return durationOrDefault(b.InitialWaitSeconds, DefaultInitialWait)
}

func (b BackoffConfig) ReconnectionPause() time.Duration {
	return durationOrDefault(b.ReconnectionPauseSeconds, DefaultReconnectionPause)
}

func (b BackoffConfig) ConstantWait() time.Duration {
	return durationOrDefault(b.ConstantWaitSeconds, DefaultConstantWait)
}

func (b BackoffConfig) Retries() int {
	if b.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return b.MaxRetries
}

func durationOrDefault(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds * float64(time.Second))
}

// BundlesConfig controls how outbound bundles are built.
type BundlesConfig struct {
	LifetimeRaw          string `toml:"lifetime"`
	DeliveryNotification bool   `toml:"delivery_notification"`
	CompressBody         bool   `toml:"compress_body"`
}

// LifetimeMS parses BundlesConfig.LifetimeRaw as a Go duration string and
// returns milliseconds; unparseable values fall back to DefaultBundleLifetime.
func (b BundlesConfig) LifetimeMS() int64 {
	d, err := time.ParseDuration(b.LifetimeRaw)
	if err != nil || d <= 0 {
		d = DefaultBundleLifetime
	}
	return d.Milliseconds()
}

// UsenetConfig holds the locally served newsgroups and the posting identity.
type UsenetConfig struct {
	ExpiryTimeRaw string   `toml:"expiry_time"`
	Email         string   `toml:"email"`
	Newsgroups    []string `toml:"newsgroups"`
}

// ExpiryTime parses ExpiryTimeRaw; zero or unparseable disables expiry.
func (u UsenetConfig) ExpiryTime() time.Duration {
	if u.ExpiryTimeRaw == "" {
		return 0
	}
	d, err := time.ParseDuration(u.ExpiryTimeRaw)
	if err != nil {
		return 0
	}
	return d
}

// JanitorConfig controls the expiry sweep interval.
type JanitorConfig struct {
	SleepRaw string `toml:"sleep"`
}

// Sleep parses SleepRaw, falling back to DefaultJanitorSleep.
func (j JanitorConfig) Sleep() time.Duration {
	d, err := time.ParseDuration(j.SleepRaw)
	if err != nil || d <= 0 {
		return DefaultJanitorSleep
	}
	return d
}

// Load reads and decodes a TOML document at path. A missing file or
// unparseable TOML is a fatal configuration error — it must surface before
// any socket is opened, so Load never logs-and-continues.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Printf("[CONFIG] ignoring unknown keys in %s: %v", path, undecoded)
	}
	if cfg.Backend.DBURL == "" {
		return nil, fmt.Errorf("config: backend.db_url is required")
	}
	if cfg.DTND.WSPath == "" {
		cfg.DTND.WSPath = DefaultWSPath
	}
	cfg.AppVersion = AppVersion
	return &cfg, nil
}
