package app

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"chatique/internal/domain"
)

// DefaultDHBits mirrors the historical wire default. Fast for a demo
// relay, far below modern strength: production deployments must configure
// 2048 bits or more.
const DefaultDHBits = 256

// Config holds runtime wiring options for building the subsystem.
type Config struct {
	Home       string        // config directory, e.g. $HOME/.chatique
	RelayURL   string        // relay base URL, e.g. http://127.0.0.1:8080
	UserID     domain.UserID // this session's relay identity
	Passphrase string        // protects persisted key material at rest

	DHBits        int           // DH modulus size; defaults to DefaultDHBits
	FanoutTimeout time.Duration // admin fan-out bound; 0 means the default
	ShareWindow   time.Duration // per-candidate engagement window; 0 means the default

	HTTP   *http.Client // optional; defaults to http.DefaultClient
	Logger *zap.Logger  // optional; defaults to zap.NewNop()
}

func (c Config) withDefaults() Config {
	if c.DHBits == 0 {
		c.DHBits = DefaultDHBits
	}
	if c.HTTP == nil {
		c.HTTP = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
