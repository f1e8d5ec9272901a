package speech

import "io"

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // pcm, wav, webm ...
	Language  string    `json:"language"` // en-US, zh-CN ...
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`  // 0.5-2.0
	Volume    float32 `json:"volume"` // 0.0-1.0
	Format    string  `json:"format"`
	Language  string  `json:"language"`
}
