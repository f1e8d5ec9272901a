package scene

import (
	"errors"
	"testing"
)

func TestFrameDataURL(t *testing.T) {
	f := &Frame{Data: []byte("hi")}
	if got := f.DataURL(); got != "data:image/jpeg;base64,aGk=" {
		t.Fatalf("unexpected data url %q", got)
	}

	f.MIMEType = "image/png"
	if got := f.DataURL(); got != "data:image/png;base64,aGk=" {
		t.Fatalf("unexpected data url %q", got)
	}
}

func TestFrameEmpty(t *testing.T) {
	var f *Frame
	if !f.Empty() {
		t.Fatal("nil frame should be empty")
	}
	if !(&Frame{}).Empty() {
		t.Fatal("frame without data should be empty")
	}
	if (&Frame{Data: []byte{1}}).Empty() {
		t.Fatal("frame with data should not be empty")
	}
}

func TestParseDataURL(t *testing.T) {
	f, err := ParseDataURL("data:image/png;base64,aGk=", "")
	if err != nil {
		t.Fatalf("ParseDataURL err: %v", err)
	}
	if string(f.Data) != "hi" || f.MIMEType != "image/png" || f.CapturedAt.IsZero() {
		t.Fatalf("unexpected frame %+v", f)
	}

	f, err = ParseDataURL("aGk=", "")
	if err != nil || f.MIMEType != DefaultMIMEType {
		t.Fatalf("bare base64 should default to jpeg, got %+v err=%v", f, err)
	}

	bad := []struct{ payload, mime string }{
		{payload: "data:image/png,aGk="},
		{payload: "aGk=", mime: "text/plain"},
		{payload: "not base64!"},
		{payload: ""},
	}
	for _, tc := range bad {
		if _, err := ParseDataURL(tc.payload, tc.mime); !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("ParseDataURL(%q, %q) expected ErrInvalidImage, got %v", tc.payload, tc.mime, err)
		}
	}
}
