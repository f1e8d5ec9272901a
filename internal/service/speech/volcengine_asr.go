package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
)

const (
	// DefaultASREndpoint accepts a whole utterance and answers once.
	DefaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	// 16kHz, 16bit, mono: 200ms of audio.
	asrChunkSize = 6400
)

// ErrNoAudio is returned when a transcription request carries no audio.
var ErrNoAudio = errors.New("no audio data to send")

// ASRClient transcribes buffered audio over the Volcengine websocket API.
type ASRClient struct {
	config   *speech.SpeechConfig
	dialer   *websocket.Dialer
	Endpoint string
	// ChunkInterval paces audio chunks like a live stream.
	ChunkInterval time.Duration
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

type asrRequestBody struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// NewASRClient builds a client for the default endpoint.
func NewASRClient(config *speech.SpeechConfig) *ASRClient {
	timeout := 30 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	return &ASRClient{
		config:        config,
		dialer:        &websocket.Dialer{HandshakeTimeout: timeout},
		Endpoint:      DefaultASREndpoint,
		ChunkInterval: 200 * time.Millisecond,
	}
}

// Transcribe sends the whole of req.AudioData and waits for the final text.
// Sending and receiving run concurrently so a server error cancels the upload.
func (c *ASRClient) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}
	if req.AudioData == nil {
		return nil, ErrNoAudio
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	connectID := strings.TrimSpace(req.SessionID)
	if connectID == "" {
		connectID = uuid.NewString()
	}

	resourceID := "volc.bigasr.sauc.duration"
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[speech] asr connected logid=%s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(req, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	type result struct {
		resp *speech.ASRResponse
		err  error
	}
	recvCh := make(chan result, 1)
	go func() {
		resp, err := c.receive(conn, connectID)
		recvCh <- result{resp, err}
	}()

	sendCh := make(chan error, 1)
	go func() {
		sendCh <- c.sendAudio(ctx, conn, audio)
	}()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendCh = nil
		case r := <-recvCh:
			if r.err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.resp, r.err
		}
	}
}

func (c *ASRClient) buildRequest(req *speech.ASRRequest, uid string) *asrRequestBody {
	body := &asrRequestBody{}
	body.User.UID = uid

	body.Audio.Format = firstNonEmpty(req.Format, c.config.ASRFormat, "pcm")
	body.Audio.Language = firstNonEmpty(req.Language, c.config.ASRLanguage, "en-US")
	body.Audio.Codec = "raw"
	body.Audio.Rate = 16000
	body.Audio.Bits = 16
	body.Audio.Channel = 1

	body.Request.ModelName = "bigmodel"
	body.Request.EnableITN = true
	body.Request.EnablePunc = true
	body.Request.ShowUtterances = true
	body.Request.ResultType = "full"
	body.Request.EndWindowSize = 800
	return body
}

func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// the full client request takes sequence 1
	sequence := int32(2)

	for i := 0; i < len(audio); i += asrChunkSize {
		end := min(i+asrChunkSize, len(audio))
		isLast := end == len(audio)

		chunk, err := CompressPayload(audio[i:end], GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress audio chunk: %w", err)
		}
		frame, err := EncodeMessage(CreateAudioOnlyRequest(chunk, sequence, isLast, GzipCompression))
		if err != nil {
			return fmt.Errorf("failed to encode audio message: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++

		if isLast || c.ChunkInterval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ChunkInterval):
		}
	}
	return nil
}

func (c *ASRClient) receive(conn *websocket.Conn, sessionID string) (*speech.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}
		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			body, err := msg.Body()
			if err != nil {
				return nil, fmt.Errorf("ASR error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(body))

		case FullServerResponse:
			body, err := msg.Body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}
			var server asrServerMessage
			if err := json.Unmarshal(body, &server); err != nil {
				log.Printf("[speech] asr response unmarshal failed: %v", err)
				continue
			}
			if server.Code != 0 && server.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", server.Code, server.Message)
			}

			if candidate := server.Result.Text; candidate != "" {
				text = candidate
			} else if len(server.Result.Utterances) > 0 {
				text = joinUtterances(server.Result.Utterances)
			}
			if server.AudioInfo.Duration > 0 {
				duration = server.AudioInfo.Duration
			}

			if msg.IsLastPacket() || server.Sequence < 0 {
				if text == "" {
					log.Printf("[speech] asr empty transcript for %s", sessionID)
				}
				return &speech.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
