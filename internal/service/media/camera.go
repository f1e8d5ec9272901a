package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
)

const (
	// MaxWidth and MaxHeight bound every encoded frame.
	MaxWidth    = 640
	MaxHeight   = 480
	JPEGQuality = 80
)

// ErrNoImages is returned when a camera directory holds no decodable images.
var ErrNoImages = errors.New("no images found")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// DirCamera replays the images of a directory as camera frames, moving to the
// next image every Hold.
type DirCamera struct {
	frames []*scene.Frame
	hold   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	start  time.Time
	closed bool
}

// OpenDir decodes, downsizes and re-encodes every image in dir.
func OpenDir(dir string, hold time.Duration) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read camera dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	cam := &DirCamera{hold: hold, now: time.Now}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		encoded, err := Encode(data, MaxWidth, MaxHeight)
		if err != nil {
			log.Printf("[media] skipping %s: %v", name, err)
			continue
		}
		cam.frames = append(cam.frames, &scene.Frame{Data: encoded, MIMEType: scene.DefaultMIMEType})
	}
	if len(cam.frames) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}
	cam.start = cam.now()
	return cam, nil
}

// Len returns the number of frames.
func (c *DirCamera) Len() int { return len(c.frames) }

// Capture returns the frame for the current time.
func (c *DirCamera) Capture() (*scene.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}

	idx := 0
	if c.hold > 0 {
		idx = int(c.now().Sub(c.start)/c.hold) % len(c.frames)
	}
	src := c.frames[idx]
	return &scene.Frame{Data: src.Data, MIMEType: src.MIMEType, CapturedAt: c.now()}, true
}

// Close stops the camera.
func (c *DirCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// DirDevices opens a DirCamera on every acquisition.
type DirDevices struct {
	Dir  string
	Hold time.Duration
}

// Acquire implements companion.Devices. Audio requests are ignored.
func (d DirDevices) Acquire(_ context.Context, req companion.MediaRequest) (companion.Media, error) {
	if !req.Video {
		return nil, errors.New("video is required")
	}
	return OpenDir(d.Dir, d.Hold)
}

// Encode decodes an image, scales it down to fit maxW×maxH keeping the aspect
// ratio and re-encodes it as JPEG.
func Encode(data []byte, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxW, maxH)
	img := src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
