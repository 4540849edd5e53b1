package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Extract ExtractConfig
	Sync    SyncConfig
	API     APIConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type ExtractConfig struct {
	Model string
}

type SyncConfig struct {
	IntervalMinutes int
}

type APIConfig struct {
	Token       string
	CORSOrigins []string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4200,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Extract: ExtractConfig{
			Model: "heuristic-v1",
		},
		Sync: SyncConfig{
			IntervalMinutes: 30,
		},
	}
}

const (
	secretService  = "keepsake"
	secretAPIToken = "api_token"
)

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.calmweave.keepsake) and
// the API token lives in the macOS Keychain. On Linux the backend is a JSON
// file at $XDG_CONFIG_HOME/keepsake/config.json and the token lives in a
// 0600 secrets file under the data dir.
//
// Environment variables (KEEPSAKE_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretStore{})
}

// secrets abstracts the platform secret store for testing.
type secrets interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, sec secrets) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the secret store for the API token if still empty.
	if cfg.API.Token == "" {
		if tok, err := sec.Get(secretService, secretAPIToken); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	return cfg, nil
}

// EnsureAPIToken returns the API bearer token, generating and persisting one
// on first start. The KEEPSAKE_API_TOKEN environment variable always wins
// and is never persisted.
func EnsureAPIToken() (string, error) {
	return ensureAPIToken(secretStore{})
}

func ensureAPIToken(sec secrets) (string, error) {
	if tok := os.Getenv("KEEPSAKE_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := sec.Get(secretService, secretAPIToken); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := sec.Set(secretService, secretAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}

// secretStore reads and writes the platform secret store.
type secretStore struct{}

func (secretStore) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (secretStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
