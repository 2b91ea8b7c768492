package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultConfigPath = "config.ini"
	configPathEnv     = "REPLYBOT_CONFIG"
	defaultMaxWords   = 30
)

type Config struct {
	Hostname  string
	AppEnv    string
	OutputDir string
	LogFormat string

	FPS            int
	FrameCount     int
	AmplitudeFloor float64
	AmplitudeCeil  float64
	ReadyTimeout   time.Duration
	SettleDelay    time.Duration
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	ChromePath     string
	TemplatePath   string
	RootSelector   string

	FFmpegBin  string
	FFprobeBin string

	TTSBinary          string
	TTSOnnxModel       string
	TTSConfig          string
	TTSSentenceSilence float64

	ProfilesPath string
	ReplyTone    string
	MaxWords     int
	UseOpenAI    bool
	OpenAIModel  string
	OpenAIRPS    float64
	OpenAIAPIKey string

	SeenStateFile string

	DBURL      string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RabbitMQEnabled  bool
	RabbitMQHost     string
	RabbitMQPort     int
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQVHost    string

	SlackBotToken      string
	SlackReviewChannel string
}

// PipelineSettings is the immutable value object handed to the orchestrator.
type PipelineSettings struct {
	FPS            int
	FrameCount     int
	AmplitudeFloor float64
	AmplitudeCeil  float64
	ReadyTimeout   time.Duration
	SettleDelay    time.Duration
	RootSelector   string
	TemplatePath   string
	FFmpegBin      string
	FFprobeBin     string
	Tone           string
}

// DefaultPipelineSettings mirrors the defaults applied by Load.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		FPS:            12,
		FrameCount:     18,
		AmplitudeFloor: 0.15,
		AmplitudeCeil:  1.0,
		ReadyTimeout:   15 * time.Second,
		SettleDelay:    500 * time.Millisecond,
		RootSelector:   ".robot-svg",
		FFmpegBin:      "ffmpeg",
		FFprobeBin:     "ffprobe",
	}
}

// Load reads the INI file named by REPLYBOT_CONFIG (or ./config.ini).
// A missing default file is not an error; every key has a default.
func Load() (Config, error) {
	// .env never overrides variables that are already set.
	_ = godotenv.Load()

	if configPath := os.Getenv(configPathEnv); configPath != "" {
		return LoadFile(configPath)
	}
	ini, err := readINI(defaultConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", defaultConfigPath, err)
		}
		ini = iniData{sections: map[string]map[string]string{}}
	}
	return fromINI(ini)
}

// LoadFile parses a specific INI file, which must exist.
func LoadFile(path string) (Config, error) {
	ini, err := readINI(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return fromINI(ini)
}

func fromINI(ini iniData) (Config, error) {
	defaults := DefaultPipelineSettings()
	cfg := Config{}
	cfg.Hostname = ini.get("app", "hostname")
	if cfg.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Hostname = host
		}
	}
	cfg.AppEnv = ini.getDefault("app", "env", "production")
	cfg.OutputDir = ini.getDefault("app", "output_dir", "./output")
	cfg.LogFormat = ini.getDefault("app", "log_format", "text")

	cfg.FPS = ini.getIntDefault("render", "fps", defaults.FPS)
	cfg.FrameCount = ini.getIntDefault("render", "frame_count", defaults.FrameCount)
	cfg.AmplitudeFloor = ini.getFloatDefault("render", "floor", defaults.AmplitudeFloor)
	cfg.AmplitudeCeil = ini.getFloatDefault("render", "ceil", defaults.AmplitudeCeil)
	cfg.ReadyTimeout = time.Duration(ini.getIntDefault("render", "ready_timeout_seconds", int(defaults.ReadyTimeout/time.Second))) * time.Second
	cfg.SettleDelay = time.Duration(ini.getIntDefault("render", "settle_ms", int(defaults.SettleDelay/time.Millisecond))) * time.Millisecond
	cfg.Headless = firstBoolDefault(true, os.Getenv("HEADLESS"), ini.get("render", "headless"))
	cfg.WindowWidth = ini.getIntDefault("render", "window_width", 900)
	cfg.WindowHeight = ini.getIntDefault("render", "window_height", 600)
	cfg.ChromePath = firstNonEmpty(ini.get("render", "chrome_path"), os.Getenv("CHROME_PATH"))
	cfg.TemplatePath = ini.get("render", "template_path")
	cfg.RootSelector = ini.getDefault("render", "root_selector", defaults.RootSelector)

	cfg.FFmpegBin = firstNonEmpty(ini.get("ffmpeg", "binary"), os.Getenv("FFMPEG_BIN"), defaults.FFmpegBin)
	cfg.FFprobeBin = firstNonEmpty(ini.get("ffmpeg", "ffprobe"), os.Getenv("FFPROBE_BIN"), defaults.FFprobeBin)

	cfg.TTSBinary = ini.getDefault("tts", "binary", "piper")
	cfg.TTSOnnxModel = ini.get("tts", "onnx_model")
	cfg.TTSConfig = ini.get("tts", "config_file")
	cfg.TTSSentenceSilence = ini.getFloatDefault("tts", "sentence_silence", 0.2)

	cfg.ProfilesPath = ini.get("reply", "profiles")
	cfg.ReplyTone = ini.get("reply", "tone")
	cfg.MaxWords = ini.getIntDefault("reply", "max_words", defaultMaxWords)
	cfg.UseOpenAI = ini.getBoolDefault("reply", "use_openai", false)
	cfg.OpenAIModel = ini.getDefault("reply", "model", "gpt-4o-mini")
	cfg.OpenAIRPS = ini.getFloatDefault("reply", "rps", 1)
	cfg.OpenAIAPIKey = firstNonEmpty(ini.get("openai", "api_key"), os.Getenv("OPENAI_API_KEY"))

	cfg.SeenStateFile = ini.get("discovery", "state_file")

	cfg.DBURL = firstNonEmpty(ini.get("db", "url"), os.Getenv("DATABASE_URL"))
	cfg.DBHost = ini.get("db", "host")
	cfg.DBPort = ini.getIntDefault("db", "port", 5432)
	cfg.DBName = ini.getDefault("db", "name", "replybot")
	cfg.DBUser = ini.getDefault("db", "user", "replybot")
	cfg.DBPassword = ini.get("db", "password")
	cfg.DBSSLMode = ini.getDefault("db", "sslmode", "prefer")

	cfg.RabbitMQEnabled = ini.getBoolDefault("rabbitmq", "enabled", false)
	cfg.RabbitMQHost = ini.getDefault("rabbitmq", "host", "127.0.0.1")
	cfg.RabbitMQPort = ini.getIntDefault("rabbitmq", "port", 5672)
	cfg.RabbitMQUser = ini.getDefault("rabbitmq", "user", "guest")
	cfg.RabbitMQPassword = ini.getDefault("rabbitmq", "password", "guest")
	cfg.RabbitMQVHost = ini.getDefault("rabbitmq", "vhost", "/")

	cfg.SlackBotToken = firstNonEmpty(ini.get("slack", "bot_token"), os.Getenv("SLACK_BOT_TOKEN"))
	cfg.SlackReviewChannel = ini.get("slack", "review_channel")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("render.fps must be positive (got %d)", c.FPS)
	}
	if c.FrameCount <= 0 {
		return fmt.Errorf("render.frame_count must be positive (got %d)", c.FrameCount)
	}
	if c.AmplitudeFloor < 0 || c.AmplitudeCeil <= c.AmplitudeFloor {
		return fmt.Errorf("render.floor/ceil must satisfy 0 <= floor < ceil (got %v, %v)", c.AmplitudeFloor, c.AmplitudeCeil)
	}
	if c.MaxWords <= 0 {
		return fmt.Errorf("reply.max_words must be positive (got %d)", c.MaxWords)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("app.output_dir must not be empty")
	}
	return nil
}

func (c Config) Pipeline() PipelineSettings {
	return PipelineSettings{
		FPS:            c.FPS,
		FrameCount:     c.FrameCount,
		AmplitudeFloor: c.AmplitudeFloor,
		AmplitudeCeil:  c.AmplitudeCeil,
		ReadyTimeout:   c.ReadyTimeout,
		SettleDelay:    c.SettleDelay,
		RootSelector:   c.RootSelector,
		TemplatePath:   c.TemplatePath,
		FFmpegBin:      c.FFmpegBin,
		FFprobeBin:     c.FFprobeBin,
		Tone:           c.ReplyTone,
	}
}

func (c Config) QueueDir() string     { return filepath.Join(c.OutputDir, "queue") }
func (c Config) PublishedDir() string { return filepath.Join(c.OutputDir, "published") }

func (c Config) SeenStatePath() string {
	if c.SeenStateFile != "" {
		return c.SeenStateFile
	}
	return filepath.Join(c.OutputDir, "seen_comments.json")
}

// DBEnabled reports whether a ledger database was configured at all.
func (c Config) DBEnabled() bool {
	return c.DBURL != "" || c.DBHost != ""
}

func (c Config) DBConnString() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBUser,
		c.DBPassword,
		c.DBSSLMode,
	)
}

// SlackReviewEnabled reports whether finished videos are announced on Slack.
func (c Config) SlackReviewEnabled() bool {
	return c.SlackBotToken != "" && c.SlackReviewChannel != ""
}

func (c Config) RabbitMQURL() string {
	vhost := strings.TrimPrefix(c.RabbitMQVHost, "/")
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d/%s",
		c.RabbitMQUser,
		c.RabbitMQPassword,
		c.RabbitMQHost,
		c.RabbitMQPort,
		vhost,
	)
}

type iniData struct {
	sections map[string]map[string]string
}

func readINI(path string) (iniData, error) {
	file, err := os.Open(path)
	if err != nil {
		return iniData{}, err
	}
	defer file.Close()

	data := iniData{sections: map[string]map[string]string{}}
	section := "default"
	data.sections[section] = map[string]string{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if section == "" {
				return iniData{}, fmt.Errorf("invalid section header at line %d", lineNo)
			}
			if _, ok := data.sections[section]; !ok {
				data.sections[section] = map[string]string{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return iniData{}, fmt.Errorf("invalid line %d: %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return iniData{}, fmt.Errorf("empty key at line %d", lineNo)
		}
		data.sections[section][key] = trimQuotes(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return iniData{}, err
	}
	return data, nil
}

func trimQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	if value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	if value[0] == '\'' && value[len(value)-1] == '\'' {
		return value[1 : len(value)-1]
	}
	return value
}

func (ini iniData) get(section, key string) string {
	if len(ini.sections) == 0 {
		return ""
	}
	section = strings.ToLower(section)
	key = strings.ToLower(key)
	if section == "" {
		section = "default"
	}
	if values, ok := ini.sections[section]; ok {
		return values[key]
	}
	return ""
}

func (ini iniData) getDefault(section, key, fallback string) string {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	return value
}

func (ini iniData) getIntDefault(section, key string, fallback int) int {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (ini iniData) getFloatDefault(section, key string, fallback float64) float64 {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (ini iniData) getBoolDefault(section, key string, fallback bool) bool {
	return firstBoolDefault(fallback, ini.get(section, key))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// firstBoolDefault accepts 1/0, true/false, yes/no and on/off.
func firstBoolDefault(fallback bool, values ...string) bool {
	for _, value := range values {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
