package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// ErrCredentialsMissing 表示未配置火山引擎 AppID 或 AccessToken。
var ErrCredentialsMissing = errors.New("volcengine speech credentials not configured")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrCredentialsMissing
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrCredentialsMissing
	}
	return appID, token, nil
}
