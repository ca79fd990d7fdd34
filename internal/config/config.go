package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Catalogue CatalogueConfig
	Session   SessionConfig
	Arbiter   ArbiterConfig
	History   HistoryConfig
	Log       LogConfig
	AI        AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	catalogue, err := loadCatalogueConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	arbiter, err := loadArbiterConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Catalogue: catalogue,
		Session:   session,
		Arbiter:   arbiter,
		History:   HistoryConfig{Dir: getEnvOrDefault("HISTORY_DIR", "history")},
		Log:       logCfg,
		AI:        ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AuthKey 非空时所有接口都需要携带 Auth 查询参数。
	AuthKey string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8001"
	}
	authKey := strings.TrimSpace(os.Getenv("CHATBOT_AUTH_KEY"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8001" 或 "127.0.0.1:8001"。
		return ServerConfig{Addr: port, AuthKey: authKey}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AuthKey: authKey}, nil
}

// CatalogueConfig 描述角色目录文件。
type CatalogueConfig struct {
	Path  string
	Watch bool
}

func loadCatalogueConfig() (CatalogueConfig, error) {
	watch, err := parseBoolEnv("CHARACTER_WATCH", true)
	if err != nil {
		return CatalogueConfig{}, err
	}
	return CatalogueConfig{
		Path:  getEnvOrDefault("CHARACTER_CONFIG", "configs/characters.yaml"),
		Watch: watch,
	}, nil
}

// SessionConfig 描述会话清理与账本上限。
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxTurns      int
}

func loadSessionConfig() (SessionConfig, error) {
	idle, err := parseDurationEnv("SESSION_IDLE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	sweep, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	if sweep <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL value %q: must be positive", sweep)
	}

	maxTurns := 1000
	if override, err := parseOptionalIntEnv("SESSION_MAX_TURNS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		maxTurns = *override
	}

	return SessionConfig{IdleTimeout: idle, SweepInterval: sweep, MaxTurns: maxTurns}, nil
}

// ArbiterConfig 描述仲裁策略的可调参数。
type ArbiterConfig struct {
	ResponderTimeout   time.Duration
	FallbackLang       string
	QuibbleSuppression bool
	GambitDismissRate  float64
	ClearPinOnMiss     bool
	// Seed 为 0 时使用时间作为随机种子。
	Seed uint64
}

func loadArbiterConfig() (ArbiterConfig, error) {
	timeout, err := parseDurationEnv("RESPONDER_TIMEOUT", 5*time.Second)
	if err != nil {
		return ArbiterConfig{}, err
	}

	quibbles, err := parseBoolEnv("QUIBBLE_SUPPRESSION", true)
	if err != nil {
		return ArbiterConfig{}, err
	}

	clearPin, err := parseBoolEnv("CLEAR_PIN_ON_MISS", false)
	if err != nil {
		return ArbiterConfig{}, err
	}

	rate := 0.3
	if override, err := parseOptionalFloatEnv("GAMBIT_DISMISS_RATE"); err != nil {
		return ArbiterConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return ArbiterConfig{}, fmt.Errorf("invalid GAMBIT_DISMISS_RATE value %v: must be within [0, 1]", *override)
		}
		rate = *override
	}

	var seed uint64
	if raw := strings.TrimSpace(os.Getenv("ARBITER_SEED")); raw != "" {
		seed, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return ArbiterConfig{}, fmt.Errorf("invalid ARBITER_SEED value %q: %w", raw, err)
		}
	}

	return ArbiterConfig{
		ResponderTimeout:   timeout,
		FallbackLang:       getEnvOrDefault("FALLBACK_LANG", "en-US"),
		QuibbleSuppression: quibbles,
		GambitDismissRate:  rate,
		ClearPinOnMiss:     clearPin,
		Seed:               seed,
	}, nil
}

// HistoryConfig 描述会话账本的持久化目录，":memory:" 表示仅保存在内存。
type HistoryConfig struct {
	Dir string
}

// LogConfig 描述 slog 输出。
type LogConfig struct {
	Level  slog.Level
	Format string
}

func loadLogConfig() (LogConfig, error) {
	var level slog.Level
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q: want text or json", format)
	}
	return LogConfig{Level: level, Format: format}, nil
}

// AIConfig 描述大模型相关配置，供生成式回答者与翻译使用。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL_ID 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	// 兼容旧的 Model 变量名。
	modelID := getEnvOrDefault("ARK_MODEL_ID", strings.TrimSpace(os.Getenv("Model")))

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       modelID,
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
