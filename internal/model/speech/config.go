package speech

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 凭证
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	APIKey         string `json:"apiKey,omitempty"`
	Region         string `json:"region"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR 并发版资源

	ASRLanguage string `json:"asrLanguage"`
	ASRFormat   string `json:"asrFormat"`

	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout int `json:"timeout"` // 秒
}
