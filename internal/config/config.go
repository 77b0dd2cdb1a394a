package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Interview InterviewConfig
	API       APIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
}

type InterviewConfig struct {
	// BankPath points at a JSON question bank. Empty means the embedded
	// default bank.
	BankPath           string
	RefineEnabled      bool
	RefinePollInterval string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:     4800,
			MCPPort:  4801,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Interview: InterviewConfig{
			RefineEnabled:      true,
			RefinePollInterval: "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.parley.app) and the
// API token lives in the macOS Keychain (service: parley, account:
// api_token). On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/parley/config.json and the token lives in an XDG
// secrets file.
//
// Environment variables (PARLEY_*) override backend values on all
// platforms. The API token may be empty here; EnsureAPIToken mints one.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretStore{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API token if still empty.
	if cfg.API.Token == "" {
		if token, err := kc.Get(secretService, secretAccount); err == nil && token != "" {
			cfg.API.Token = token
		}
	}

	return cfg, nil
}

const (
	secretService = "parley"
	secretAccount = "api_token"
)

// EnsureAPIToken returns the API bearer token, minting a random one into
// the platform secret store on first run. PARLEY_API_TOKEN always wins.
func EnsureAPIToken() (string, error) {
	return ensureAPIToken(secretStore{})
}

func ensureAPIToken(kc keychain) (string, error) {
	if token := os.Getenv("PARLEY_API_TOKEN"); token != "" {
		return token, nil
	}
	if token, err := kc.Get(secretService, secretAccount); err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := kc.Set(secretService, secretAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}

// secretStore reads and writes the platform secret store.
type secretStore struct{}

func (secretStore) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (secretStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
