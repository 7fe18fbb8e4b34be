package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const appName = "voiceai"

// Recognizer sources for the wake and listen loops.
const (
	SourceQueue      = "queue"
	SourceFile       = "file"
	SourceMicrophone = "microphone"
)

type Config struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Storage  StorageConfig  `yaml:"storage"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Wake     WakeConfig     `yaml:"wake"`
	Listen   ListenConfig   `yaml:"listen"`
	Speech   SpeechConfig   `yaml:"speech"`
	Server   ServerConfig   `yaml:"server"`
	Pushover PushoverConfig `yaml:"pushover"`
	Log      LogConfig      `yaml:"log"`
}

type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Language    string        `yaml:"language"`
}

type StorageConfig struct {
	Path         string        `yaml:"path"`
	UsageTimeout time.Duration `yaml:"usage_timeout"`
}

type KeystoreConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type WakeConfig struct {
	Phrase string `yaml:"phrase"`
	Source string `yaml:"source"`
	// Restarts per second after failed recognition passes; 0 restarts at once.
	ErrorRate  float64 `yaml:"error_rate"`
	ErrorBurst int     `yaml:"error_burst"`
}

type ListenConfig struct {
	Source         string        `yaml:"source"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
}

type SpeechConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	FileDir       string        `yaml:"file_dir"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SampleRate    int           `yaml:"sample_rate"`
	MaxUtterance  time.Duration `yaml:"max_utterance"`
	Whisper       *bool         `yaml:"whisper"`
}

type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	AuthToken string  `yaml:"auth_token"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// IPs or CIDRs of reverse proxies whose forwarding headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// Origin host patterns allowed to open the events websocket cross-origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Title   string `yaml:"title"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path. A .env file next to it (or in the working
// directory) is loaded first so ${VAR} references can be resolved from it.
// A missing config file yields the defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.Keystore.Passphrase == "" {
		cfg.Keystore.Passphrase = os.Getenv("VOICEAI_PASSPHRASE")
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	for _, p := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
		return nil
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-3.5-turbo"
	}
	if c.OpenAI.Temperature == nil {
		t := 0.7
		c.OpenAI.Temperature = &t
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 30 * time.Second
	}
	if c.OpenAI.MaxAttempts == 0 {
		c.OpenAI.MaxAttempts = 1
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(xdg.DataHome, appName, appName+".db")
	}
	if c.Storage.UsageTimeout == 0 {
		c.Storage.UsageTimeout = 10 * time.Second
	}
	if c.Wake.Phrase == "" {
		c.Wake.Phrase = "hey pixel"
	}
	if c.Wake.Source == "" {
		c.Wake.Source = SourceQueue
	}
	if c.Wake.ErrorBurst == 0 {
		c.Wake.ErrorBurst = 1
	}
	if c.Listen.Source == "" {
		c.Listen.Source = SourceQueue
	}
	if c.Listen.SilenceTimeout == 0 {
		c.Listen.SilenceTimeout = 8 * time.Second
	}
	if c.Speech.QueueCapacity == 0 {
		c.Speech.QueueCapacity = 10
	}
	if c.Speech.FileDir == "" {
		c.Speech.FileDir = filepath.Join(xdg.DataHome, appName, "inbox")
	}
	if c.Speech.PollInterval == 0 {
		c.Speech.PollInterval = 500 * time.Millisecond
	}
	if c.Speech.SampleRate == 0 {
		c.Speech.SampleRate = 16000
	}
	if c.Speech.MaxUtterance == 0 {
		c.Speech.MaxUtterance = 10 * time.Second
	}
	if c.Speech.Whisper == nil {
		enabled := true
		c.Speech.Whisper = &enabled
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 5
	}
	if c.Pushover.Title == "" {
		c.Pushover.Title = "VoiceAI"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var err error

	for _, src := range []struct{ name, value string }{
		{"wake.source", c.Wake.Source},
		{"listen.source", c.Listen.Source},
	} {
		switch src.value {
		case SourceQueue, SourceFile, SourceMicrophone:
		default:
			err = multierr.Append(err, fmt.Errorf("%s: unknown recognizer source %q", src.name, src.value))
		}
	}
	if c.Wake.Source == SourceMicrophone && c.Listen.Source == SourceMicrophone {
		err = multierr.Append(err, errors.New("wake.source and listen.source cannot both use the microphone"))
	}
	if t := *c.OpenAI.Temperature; t < 0 || t > 2 {
		err = multierr.Append(err, fmt.Errorf("openai.temperature must be between 0 and 2, got %v", t))
	}
	if c.OpenAI.MaxAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("openai.max_attempts must be at least 1, got %d", c.OpenAI.MaxAttempts))
	}
	if c.Wake.ErrorRate < 0 {
		err = multierr.Append(err, errors.New("wake.error_rate must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		err = multierr.Append(err, errors.New("server.rate_limit must not be negative"))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			err = multierr.Append(err, fmt.Errorf("server.trusted_proxies: %q is not an IP address or CIDR", proxy))
		}
	}
	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		err = multierr.Append(err, errors.New("pushover.enabled requires pushover.token and pushover.user_key"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
