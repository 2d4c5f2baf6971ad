package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "POCKET_TRAINER_CONFIG"

// Duration is a time.Duration that reads "60s" style strings or plain seconds from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration
type Config struct {
	Server struct {
		Port          string `json:"port"`
		StaticDir     string `json:"static_dir"`
		PublicBaseURL string `json:"public_base_url"`
		Debug         bool   `json:"debug"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	ML struct {
		Type             string   `json:"type"` // "openai" or "google"
		ConfigPath       string   `json:"config_path"`
		APIKey           string   `json:"api_key"`
		BaseURL          string   `json:"base_url"`
		VisionModel      string   `json:"vision_model"`
		MeasurementModel string   `json:"measurement_model"`
		TextModel        string   `json:"text_model"`
		MaxTokens        int      `json:"max_tokens"`
		RequestTimeout   Duration `json:"request_timeout"`
		ImageTransport   string   `json:"image_transport"` // "inline" or "url"
	} `json:"ml"`

	Capture struct {
		DefaultTimer int      `json:"default_timer"`
		FrameTimeout Duration `json:"frame_timeout"`
	} `json:"capture"`

	Session struct {
		DetectFirst bool   `json:"detect_first"`
		WorkoutPlan bool   `json:"workout_plan"`
		Timezone    string `json:"timezone"`
	} `json:"session"`

	Log struct {
		Level  string `json:"level"`
		File   string `json:"file"`
		JSON   bool   `json:"json"`
		Stdout bool   `json:"stdout"`
	} `json:"log"`
}

// LoadConfig loads configuration from a JSON file. A .env file in the working
// directory is loaded first so secrets can stay out of the JSON.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a config document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Handle missing values
	if config.Server.Port == "" {
		// Fail if port is not set
		return nil, fmt.Errorf("server port is not set in config file")
	}
	if config.Server.StaticDir == "" {
		config.Server.StaticDir = "./static"
	}
	if config.Server.PublicBaseURL == "" {
		config.Server.PublicBaseURL = "http://localhost:" + config.Server.Port
	}
	if config.Database.Path == "" {
		config.Database.Path = "pockettrainer.db"
	}
	if config.ML.Type == "" {
		config.ML.Type = "openai"
	}
	if config.ML.APIKey == "" {
		config.ML.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.ML.RequestTimeout == 0 {
		config.ML.RequestTimeout = Duration(60 * time.Second)
	}
	if config.ML.ImageTransport == "" {
		config.ML.ImageTransport = "inline"
	}
	if config.Capture.FrameTimeout == 0 {
		config.Capture.FrameTimeout = Duration(10 * time.Second)
	}
	if config.Session.Timezone == "" {
		config.Session.Timezone = "Local"
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.ML.Type {
	case "openai", "google":
	default:
		return fmt.Errorf("unsupported ml type %q", c.ML.Type)
	}
	switch c.ML.ImageTransport {
	case "inline", "url":
	default:
		return fmt.Errorf("unsupported image transport %q", c.ML.ImageTransport)
	}
	switch c.Capture.DefaultTimer {
	case 0, 3, 10:
	default:
		return fmt.Errorf("capture default_timer must be 0, 3 or 10, got %d", c.Capture.DefaultTimer)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the session timezone used for date keys.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid session timezone %q: %w", c.Session.Timezone, err)
	}
	return loc, nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
