package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/scene-guide/backend/internal/model/session"
	speechmodel "github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Oracle     OracleConfig
	AI         AIConfig
	Speech     SpeechConfig
	Session    SessionConfig
	Storage    StorageConfig
	GuidesPath string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	oracle, err := loadOracleConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Oracle:     oracle,
		AI:         ai,
		Speech:     speech,
		Session:    sess,
		Storage:    storage,
		GuidesPath: strings.TrimSpace(os.Getenv("GUIDES_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	MetricsEnabled bool
	CORSOrigins    []string
}

func loadServerConfig() (ServerConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return ServerConfig{}, err
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, MetricsEnabled: metrics, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, MetricsEnabled: metrics, CORSOrigins: origins}, nil
}

// 场景描述服务的接入方式。
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// OracleConfig 描述场景描述服务的配置。
type OracleConfig struct {
	Provider            string
	Endpoint            string
	APIKey              string
	Model               string
	Temperature         float32
	AutonomousMaxTokens int
	VoiceMaxTokens      int
	Timeout             time.Duration
}

// UsesHTTP 表示是否直接调用 chat-completions 接口。
func (c OracleConfig) UsesHTTP() bool {
	return c.Provider == ProviderAzure || c.Provider == ProviderOpenAI
}

// Enabled 表示 HTTP 描述服务的配置是否完整。
func (c OracleConfig) Enabled() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

func loadOracleConfig() (OracleConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("ORACLE_PROVIDER", ProviderAzure))
	switch provider {
	case ProviderAzure, ProviderOpenAI, ProviderArk:
	default:
		return OracleConfig{}, fmt.Errorf("invalid ORACLE_PROVIDER value: %q", provider)
	}

	temperature, err := parseOptionalFloat32Env("ORACLE_TEMPERATURE")
	if err != nil {
		return OracleConfig{}, err
	}
	temp := float32(0.7)
	if temperature != nil {
		temp = *temperature
	}

	autonomous, err := parseOptionalIntEnv("ORACLE_AUTONOMOUS_MAX_TOKENS")
	if err != nil {
		return OracleConfig{}, err
	}
	voice, err := parseOptionalIntEnv("ORACLE_VOICE_MAX_TOKENS")
	if err != nil {
		return OracleConfig{}, err
	}
	timeout, err := parseOptionalIntEnv("ORACLE_TIMEOUT")
	if err != nil {
		return OracleConfig{}, err
	}

	cfg := OracleConfig{
		Provider:            provider,
		Model:               strings.TrimSpace(os.Getenv("ORACLE_MODEL")),
		Temperature:         temp,
		AutonomousMaxTokens: intOrDefault(autonomous, 150),
		VoiceMaxTokens:      intOrDefault(voice, 300),
		Timeout:             time.Duration(intOrDefault(timeout, 30)) * time.Second,
	}

	switch provider {
	case ProviderAzure:
		cfg.Endpoint = strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT"))
		cfg.APIKey = strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY"))
	case ProviderOpenAI:
		cfg.Endpoint = getEnvOrDefault("OPENAI_ENDPOINT", "https://api.openai.com/v1/chat/completions")
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
	}

	return cfg, nil
}

// AIConfig 描述 Ark 大模型相关配置。
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	TopP      *float64
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。温度与 token 上限按请求传入。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		TopP:      topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	modelName := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     modelName,
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		TopP:      topP,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID             string
	AccessToken       string
	Region            string
	ConcurrentMode    bool
	ASRLanguage       string
	ASRFormat         string
	TTSVoice          string
	TTSSpeed          float32
	TTSVolume         float32
	TTSLanguage       string
	Timeout           int
	Enabled           bool
	ServerSynthesis   bool
	ServerRecognition bool
}

// Client 返回火山引擎客户端使用的配置。
func (c SpeechConfig) Client() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		Region:         c.Region,
		ConcurrentMode: c.ConcurrentMode,
		ASRLanguage:    c.ASRLanguage,
		ASRFormat:      c.ASRFormat,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
		Timeout:        c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}
	serverTTS, err := parseBoolEnv("SPEECH_SERVER_TTS", false)
	if err != nil {
		return SpeechConfig{}, err
	}
	serverASR, err := parseBoolEnv("SPEECH_SERVER_ASR", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}
	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:             appID,
		AccessToken:       accessToken,
		Region:            getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		ConcurrentMode:    concurrent,
		ASRLanguage:       getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRFormat:         getEnvOrDefault("SPEECH_ASR_FORMAT", "pcm"),
		TTSVoice:          getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:          ttsSpeed,
		TTSVolume:         ttsVolume,
		TTSLanguage:       getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:           intOrDefault(timeout, 30),
		Enabled:           enabled,
		ServerSynthesis:   enabled && serverTTS,
		ServerRecognition: enabled && serverASR,
	}, nil
}

// SessionConfig 描述会话默认参数。
type SessionConfig struct {
	CaptureInterval time.Duration
	ChangeThreshold float64
	AudioEnabled    bool
	RestartDelay    time.Duration
	RestartMaxDelay time.Duration
	GuideID         string
	Language        string
}

// Settings 返回会话默认参数，超出范围的值会被截断。
func (c SessionConfig) Settings() session.Settings {
	return session.Settings{
		CaptureInterval: c.CaptureInterval,
		ChangeThreshold: c.ChangeThreshold,
		AudioEnabled:    c.AudioEnabled,
	}.Clamp()
}

func loadSessionConfig() (SessionConfig, error) {
	interval, err := parseOptionalIntEnv("SESSION_CAPTURE_INTERVAL_MS")
	if err != nil {
		return SessionConfig{}, err
	}
	threshold, err := parseOptionalFloatEnv("SESSION_CHANGE_THRESHOLD")
	if err != nil {
		return SessionConfig{}, err
	}
	audio, err := parseBoolEnv("SESSION_AUDIO_ENABLED", true)
	if err != nil {
		return SessionConfig{}, err
	}
	restart, err := parseOptionalIntEnv("SESSION_RESTART_DELAY_MS")
	if err != nil {
		return SessionConfig{}, err
	}
	restartMax, err := parseOptionalIntEnv("SESSION_RESTART_MAX_DELAY_MS")
	if err != nil {
		return SessionConfig{}, err
	}

	changeThreshold := session.DefaultChangeThreshold
	if threshold != nil {
		changeThreshold = *threshold
	}

	return SessionConfig{
		CaptureInterval: time.Duration(intOrDefault(interval, int(session.DefaultCaptureInterval.Milliseconds()))) * time.Millisecond,
		ChangeThreshold: changeThreshold,
		AudioEnabled:    audio,
		RestartDelay:    time.Duration(intOrDefault(restart, 100)) * time.Millisecond,
		RestartMaxDelay: time.Duration(intOrDefault(restartMax, 3200)) * time.Millisecond,
		GuideID:         getEnvOrDefault("SESSION_GUIDE", "moroccan-heritage"),
		Language:        getEnvOrDefault("SESSION_LANGUAGE", "en-US"),
	}, nil
}

// 对话存储后端。
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// StorageConfig 描述对话持久化配置。
type StorageConfig struct {
	Backend       string
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	TTL           time.Duration
}

func loadStorageConfig() (StorageConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("CONVERSATION_STORE", StoreMemory))
	switch backend {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return StorageConfig{}, fmt.Errorf("invalid CONVERSATION_STORE value: %q", backend)
	}

	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StorageConfig{}, err
	}
	ttl, err := parseOptionalIntEnv("CONVERSATION_TTL_HOURS")
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Backend:       backend,
		Dir:           getEnvOrDefault("CONVERSATION_DIR", "data/conversations"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intOrDefault(db, 0),
		Prefix:        getEnvOrDefault("CONVERSATION_PREFIX", "sceneguide"),
		TTL:           time.Duration(intOrDefault(ttl, 0)) * time.Hour,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func intOrDefault(v *int, defaultValue int) int {
	if v == nil {
		return defaultValue
	}
	return *v
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
