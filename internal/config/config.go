// Package config loads the pipeline configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"framepipe/internal/models"
)

// Config holds all configuration for the pipeline server.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Pipeline PipelineConfig
	Render   RenderConfig
	Status   StatusConfig
	Encode   EncodeConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Delivery DeliveryConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     string
}

type LogConfig struct {
	Level  string
	Format string
	Source bool
}

type PipelineConfig struct {
	OutputRoot   string
	Scenes       []string
	Formats      []string
	JobsPerScene int
	// OutputNames maps "scene-format" to the delivered file name stem.
	OutputNames map[string]string
}

type RenderConfig struct {
	Concurrency  int
	BaseURL      string
	DoneSelector string
	Headless     bool
	WindowWidth  int
	WindowHeight int
	WorkerDelay  time.Duration
	BrowserPath  string
}

type StatusConfig struct {
	// Heartbeat is a cron spec; empty disables the periodic rebroadcast.
	Heartbeat string
}

type EncodeConfig struct {
	EncoderPath string
	InputFPS    int
}

type RedisConfig struct {
	Addr      string
	StatusKey string
	Channel   string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type DeliveryConfig struct {
	Provider  string
	LocalRoot string
	GDrive    GDriveConfig
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// DefaultFormats are the screen formats rendered when PIPELINE_FORMATS is unset.
var DefaultFormats = []string{"HD", "fourK", "foyer", "plenary"}

// DefaultOutputNames is the built-in delivery name table.
var DefaultOutputNames = map[string]string{
	"sample-HD":      "999_Schema_Edit_1_HD",
	"sample-fourK":   "999_Schema_Edit_1_4K",
	"sample-plenary": "999_Schema_Edit_1_Plenary",
}

// ValidName reports whether s is usable as a scene or format name.
func ValidName(s string) bool {
	return models.ValidName(s)
}

var validDeliveryProviders = map[string]bool{
	"":        true,
	"localfs": true,
	"gdrive":  true,
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
func Load() (*Config, error) {
	width, height, err := parseWindowSize(envString("RENDER_WINDOW_SIZE", "400,200"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PIPELINE_PORT", 8080),
			Env:             envString("PIPELINE_ENV", "development"),
			RequestTimeout:  envDuration("PIPELINE_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDuration("PIPELINE_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     envString("CORS_ALLOWED_ORIGINS", "*"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
			Source: envBool("LOG_SOURCE", false),
		},
		Pipeline: PipelineConfig{
			OutputRoot:   envString("PIPELINE_OUTPUT_ROOT", "./pipelineOutput"),
			Formats:      envList("PIPELINE_FORMATS", DefaultFormats),
			JobsPerScene: envInt("JOBS_PER_SCENE", 6),
		},
		Render: RenderConfig{
			Concurrency:  envInt("RENDER_CONCURRENCY", 6),
			BaseURL:      envString("RENDER_BASE_URL", "http://localhost:8080/"),
			DoneSelector: envString("RENDER_DONE_SELECTOR", "#done-tag"),
			Headless:     envBool("RENDER_HEADLESS", false),
			WindowWidth:  width,
			WindowHeight: height,
			WorkerDelay:  envDuration("RENDER_WORKER_DELAY", 100*time.Millisecond),
			BrowserPath:  os.Getenv("RENDER_BROWSER_PATH"),
		},
		Status: StatusConfig{
			Heartbeat: envString("STATUS_HEARTBEAT", "@every 5s"),
		},
		Encode: EncodeConfig{
			EncoderPath: envString("ENCODER_PATH", "ffmpeg"),
			InputFPS:    envInt("ENCODER_INPUT_FPS", 60),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			StatusKey: envString("REDIS_STATUS_KEY", "framepipe:status"),
			Channel:   envString("REDIS_CHANNEL", "framepipe:pipeline-room"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: envInt("DATABASE_MAX_CONNS", 5),
		},
		Delivery: DeliveryConfig{
			Provider:  strings.ToLower(os.Getenv("DELIVERY_PROVIDER")),
			LocalRoot: os.Getenv("DELIVERY_LOCAL_ROOT"),
			GDrive: GDriveConfig{
				ClientID:     os.Getenv("GDRIVE_CLIENT_ID"),
				ClientSecret: os.Getenv("GDRIVE_CLIENT_SECRET"),
				RefreshToken: os.Getenv("GDRIVE_REFRESH_TOKEN"),
				FolderID:     os.Getenv("GDRIVE_FOLDER_ID"),
			},
		},
	}

	scenes, err := loadScenes()
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.Scenes = scenes

	names, err := loadOutputNames(os.Getenv("OUTPUT_NAMES_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.OutputNames = names

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PIPELINE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Pipeline.JobsPerScene < 1 {
		return fmt.Errorf("JOBS_PER_SCENE must be at least 1, got %d", c.Pipeline.JobsPerScene)
	}
	if c.Render.Concurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be at least 1, got %d", c.Render.Concurrency)
	}
	if !strings.HasPrefix(c.Render.BaseURL, "http://") && !strings.HasPrefix(c.Render.BaseURL, "https://") {
		return fmt.Errorf("RENDER_BASE_URL must start with http:// or https://, got %q", c.Render.BaseURL)
	}
	if c.Render.DoneSelector == "" {
		return fmt.Errorf("RENDER_DONE_SELECTOR must not be empty")
	}
	if c.Encode.InputFPS < 1 {
		return fmt.Errorf("ENCODER_INPUT_FPS must be at least 1, got %d", c.Encode.InputFPS)
	}
	if c.Pipeline.OutputRoot == "" {
		return fmt.Errorf("PIPELINE_OUTPUT_ROOT must not be empty")
	}
	for _, s := range c.Pipeline.Scenes {
		if !ValidName(s) {
			return fmt.Errorf("invalid scene name %q", s)
		}
	}
	if len(c.Pipeline.Formats) == 0 {
		return fmt.Errorf("PIPELINE_FORMATS must list at least one format")
	}
	for _, f := range c.Pipeline.Formats {
		if !ValidName(f) {
			return fmt.Errorf("invalid format name %q", f)
		}
	}

	if !validDeliveryProviders[c.Delivery.Provider] {
		return fmt.Errorf("DELIVERY_PROVIDER must be one of localfs, gdrive; got %q", c.Delivery.Provider)
	}
	if c.Delivery.Provider == "localfs" && c.Delivery.LocalRoot == "" {
		return fmt.Errorf("DELIVERY_LOCAL_ROOT is required when DELIVERY_PROVIDER is localfs")
	}
	if c.Delivery.Provider == "gdrive" {
		g := c.Delivery.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN are required when DELIVERY_PROVIDER is gdrive")
		}
	}
	return nil
}

// Pairs returns every configured (scene, format) combination.
func (p PipelineConfig) Pairs() [][2]string {
	out := make([][2]string, 0, len(p.Scenes)*len(p.Formats))
	for _, s := range p.Scenes {
		for _, f := range p.Formats {
			out = append(out, [2]string{s, f})
		}
	}
	return out
}

type sceneTitle struct {
	ShortName string `json:"shortName"`
}

// loadScenes reads SCENE_TITLES_FILE when set, PIPELINE_SCENES otherwise.
func loadScenes() ([]string, error) {
	path := os.Getenv("SCENE_TITLES_FILE")
	if path == "" {
		return envList("PIPELINE_SCENES", []string{"sample"}), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SCENE_TITLES_FILE: %w", err)
	}
	var titles []sceneTitle
	if err := json.Unmarshal(raw, &titles); err != nil {
		return nil, fmt.Errorf("parse SCENE_TITLES_FILE: %w", err)
	}
	scenes := make([]string, 0, len(titles))
	for _, t := range titles {
		if t.ShortName != "" {
			scenes = append(scenes, t.ShortName)
		}
	}
	return scenes, nil
}

// loadOutputNames merges the JSON object at path over DefaultOutputNames.
func loadOutputNames(path string) (map[string]string, error) {
	names := make(map[string]string, len(DefaultOutputNames))
	for k, v := range DefaultOutputNames {
		names[k] = v
	}
	if path == "" {
		return names, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read OUTPUT_NAMES_FILE: %w", err)
	}
	var extra map[string]string
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("parse OUTPUT_NAMES_FILE: %w", err)
	}
	for k, v := range extra {
		names[k] = v
	}
	return names, nil
}

func parseWindowSize(v string) (int, int, error) {
	w, h, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0, fmt.Errorf("RENDER_WINDOW_SIZE must be WIDTH,HEIGHT, got %q", v)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("RENDER_WINDOW_SIZE must be two positive integers, got %q", v)
	}
	return width, height, nil
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
