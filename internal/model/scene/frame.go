package scene

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidImage is returned for frames that are not base64 images.
var ErrInvalidImage = errors.New("invalid image payload")

// DefaultMIMEType is assumed for frames that do not declare one.
const DefaultMIMEType = "image/jpeg"

// Frame is one encoded still captured from the camera.
type Frame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mimeType"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Empty reports whether the frame carries no image data.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0
}

// DataURL renders the frame as a base64 data URL for the oracle.
func (f *Frame) DataURL() string {
	mime := f.MIMEType
	if mime == "" {
		mime = DefaultMIMEType
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// ParseDataURL decodes a frame sent by a client, either as a data URL or as
// bare base64 with an optional MIME type.
func ParseDataURL(payload, mimeType string) (*Frame, error) {
	payload = strings.TrimSpace(payload)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: expected base64 data url", ErrInvalidImage)
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		payload = body
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidImage, mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return &Frame{Data: data, MIMEType: mimeType, CapturedAt: time.Now()}, nil
}

// Origin distinguishes timer-driven analyses from spoken questions.
type Origin string

const (
	OriginAutonomous Origin = "autonomous"
	OriginVoice      Origin = "voice"
)

// AnalysisRequest is one call to the description oracle.
type AnalysisRequest struct {
	ID       string
	Frame    *Frame
	Question string
	Origin   Origin
	GuideID  string
}
