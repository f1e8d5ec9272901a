package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

// DefaultTTSEndpoint is the unidirectional streaming synthesis endpoint.
const DefaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// ErrEmptyAudio is returned when the server finishes without sending audio.
var ErrEmptyAudio = errors.New("TTS audio is empty")

// TTSClient renders text to audio over the Volcengine websocket API.
type TTSClient struct {
	config   *speech.SpeechConfig
	dialer   *websocket.Dialer
	Endpoint string
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequestBody struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string        `json:"speaker"`
		Text        string        `json:"text"`
		AudioParams ttsAudioParam `json:"audio_params"`
		Additions   string        `json:"additions,omitempty"`
		Language    string        `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParam struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

// NewTTSClient builds a client for the default endpoint.
func NewTTSClient(config *speech.SpeechConfig) *TTSClient {
	timeout := 30 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	return &TTSClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
		Endpoint: DefaultTTSEndpoint,
	}
}

// Synthesize renders req.Text. When a voice is rejected for the resource it
// was tried with, the next resource and then the configured fallback voice
// are tried.
func (c *TTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error

	for speakerIdx, speaker := range speakers {
		for resourceIdx, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, err := c.synthesizeWith(ctx, req, appKey, accessKey, speaker, encoding, resourceID)
			if err == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					log.Printf("[speech] tts voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return resp, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			log.Printf("[speech] tts voice %s resource %s mismatch: %v", speaker, resourceID, err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no compatible voice among %v", speakers)
}

func (c *TTSClient) synthesizeWith(ctx context.Context, req *speech.TTSRequest, appKey, accessKey, speaker, encoding, resourceID string) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[speech] tts connected logid=%s", logid)
		}
	}

	body, uid := c.buildRequest(req, speaker, encoding)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uid
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			body, err := msg.Body()
			if err != nil {
				return nil, fmt.Errorf("TTS error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("TTS error: %s", string(body))

		case AudioOnlyServerResponse:
			chunk, err := msg.Body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			body, err := msg.Body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS response payload: %w", err)
			}

			var server ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &server); err != nil {
					log.Printf("[speech] tts response unmarshal failed: %v", err)
				} else {
					if server.Code != 0 && server.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", server.Code, server.Message)
					}
					if server.ReqID != "" {
						reqID = server.ReqID
					}
					if server.Addition.Duration != "" {
						if parsed, err := strconv.ParseInt(server.Addition.Duration, 10, 64); err == nil {
							duration = parsed
						}
					}
					if server.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(server.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (msg.hasEvent() && msg.EventType == EventTypeSessionFinished) ||
				msg.IsLastPacket() || server.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, ErrEmptyAudio
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speech.TTSResponse{
				SessionID: sessionID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    encoding,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			log.Printf("[speech] tts unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func (c *TTSClient) buildRequest(req *speech.TTSRequest, speaker, encoding string) (*ttsRequestBody, string) {
	body := &ttsRequestBody{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	body.User.UID = uid

	body.ReqParams.Speaker = speaker
	body.ReqParams.Text = req.Text
	body.ReqParams.AudioParams = ttsAudioParam{
		Format:          encoding,
		SampleRate:      24000,
		EnableTimestamp: true,
	}

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		body.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		body.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	body.ReqParams.Language = language
	body.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return body, uid
}

// voiceAliases maps guide ids and shorthand names onto Volcengine speakers.
var voiceAliases = map[string]string{
	"moroccan-heritage": "en_female_amy_jupiter_bigtts",
	"scene-narrator":    "en_male_glen_emo_v2_mars_bigtts",
	"en_default":        "en_female_amy_jupiter_bigtts",
	"en_female":         "en_female_skye_emo_v2_mars_bigtts",
	"en_male":           "en_male_corey_emo_v2_mars_bigtts",
}

// NormalizeVoiceAlias resolves an alias to a speaker id; unknown names pass through.
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	add("en_default")
	return candidates
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
