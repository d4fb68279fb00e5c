package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file,
// with environment variables overriding file values.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Vault       VaultConfig       `toml:"vault"`
	Downloads   DownloadsConfig   `toml:"downloads"`
	Extractor   ExtractorConfig   `toml:"extractor"`
	Cache       CacheConfig       `toml:"cache"`
	Server      ServerConfig      `toml:"server"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Spotify  SpotifyConfig  `toml:"spotify"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Genius   GeniusConfig   `toml:"genius"`
}

// TelegramConfig contains the bot API token.
type TelegramConfig struct {
	Token string `toml:"token"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// OpenAIConfig contains the completion API credentials and model selection.
type OpenAIConfig struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	ChatModel       string `toml:"chat_model"`
	ClassifierModel string `toml:"classifier_model"`
}

// GeniusConfig contains the lyrics provider token.
type GeniusConfig struct {
	AccessToken string `toml:"access_token"`
}

// VaultConfig holds the at-rest encryption key (base64, 32 bytes).
type VaultConfig struct {
	Key string `toml:"key"`
}

// DownloadsConfig controls the transient artifact directory and policy.
type DownloadsConfig struct {
	Dir          string `toml:"dir"`
	MaxSizeBytes int64  `toml:"max_size_bytes"`
	Workers      int64  `toml:"workers"`
}

// ExtractorConfig points at the yt-dlp sidecar.
type ExtractorConfig struct {
	BaseURL string `toml:"base_url"`
}

// CacheConfig contains search cache database settings.
type CacheConfig struct {
	Path         string `toml:"path"`
	TTLMinutes   int    `toml:"ttl_minutes"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains OAuth callback server settings.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// LoadConfig reads and parses a TOML configuration file from the specified
// path, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	return &config, nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded
// example config and environment overrides applied.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFile loads a .env file into the process environment when present.
// Missing files are not an error; real environment values are never replaced.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// applyEnv lets the environment win over file values for credentials.
func (c *Config) applyEnv() {
	overlay(&c.Credentials.Telegram.Token, "TELEGRAM_TOKEN")
	overlay(&c.Credentials.OpenAI.APIKey, "OPENAI_API_KEY")
	overlay(&c.Credentials.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	overlay(&c.Credentials.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	overlay(&c.Credentials.Spotify.RedirectURI, "SPOTIFY_REDIRECT_URI")
	overlay(&c.Credentials.Genius.AccessToken, "GENIUS_ACCESS_TOKEN")
	overlay(&c.Vault.Key, "ENCRYPTION_KEY")
}

func overlay(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
