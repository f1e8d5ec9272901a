package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
)

// ImageDetail is the resolution hint sent with every frame.
const ImageDetail = "low"

// Prompt is everything the oracle needs for one call.
type Prompt struct {
	SystemPrompt    string
	UserPrompt      string
	ImageURL        string
	MaxOutputTokens int
	Temperature     float32
}

const exploringInstruction = `Keep it to 2-3 sentences. If nothing significant or new is visible, respond only with "Exploring..."`

// BuildPrompt frames a request for the given guide. Autonomous requests get
// the short budget and the "Exploring..." escape hatch; voice questions get
// the long budget and the question verbatim.
func BuildPrompt(g guide.Guide, req scene.AnalysisRequest, cfg config.OracleConfig) Prompt {
	p := Prompt{
		SystemPrompt: g.SystemPrompt,
		ImageURL:     req.Frame.DataURL(),
		Temperature:  cfg.Temperature,
	}

	switch req.Origin {
	case scene.OriginVoice:
		p.MaxOutputTokens = cfg.VoiceMaxTokens
		p.UserPrompt = fmt.Sprintf(
			"The user asks: %q\n\nAnswer the question using what is visible in the image. "+
				"Give historical and cultural context where it helps, and say so plainly if the image does not show enough to answer.",
			strings.TrimSpace(req.Question))
	default:
		p.MaxOutputTokens = cfg.AutonomousMaxTokens
		hint := strings.TrimSpace(g.AutonomousHint)
		if hint == "" {
			hint = "Describe what is notable in this scene."
		}
		p.UserPrompt = hint + " " + exploringInstruction
	}

	return p
}
