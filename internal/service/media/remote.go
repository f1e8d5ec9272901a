package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
)

// Messages exchanged with the client that owns the camera.
const (
	MsgAcquire = "acquire_media"
	MsgRelease = "release_media"
)

var (
	ErrNoMedia         = errors.New("no media acquired")
	ErrAcquireTimeout  = errors.New("timed out waiting for camera")
	ErrAcquireCanceled = errors.New("media request superseded")
	ErrClientGone      = errors.New("client disconnected")
)

// Sender delivers a typed message to the client.
type Sender interface {
	Send(msgType string, data any) error
}

// RemoteDevices asks the client to open its camera and microphone and
// collects the frames it then streams.
type RemoteDevices struct {
	sender      Sender
	onOverwrite func()

	// Timeout bounds the wait for the client's answer.
	Timeout time.Duration

	mu      sync.Mutex
	pending chan error
	current *FrameSlot
}

// NewRemoteDevices wires a sender. onOverwrite is handed to every FrameSlot.
func NewRemoteDevices(sender Sender, onOverwrite func()) *RemoteDevices {
	return &RemoteDevices{sender: sender, onOverwrite: onOverwrite, Timeout: 30 * time.Second}
}

// Acquire implements companion.Devices.
func (d *RemoteDevices) Acquire(ctx context.Context, req companion.MediaRequest) (companion.Media, error) {
	answer := make(chan error, 1)
	d.mu.Lock()
	if d.pending != nil {
		d.pending <- ErrAcquireCanceled
	}
	d.pending = answer
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.pending == answer {
			d.pending = nil
		}
		d.mu.Unlock()
	}()

	if err := d.sender.Send(MsgAcquire, req); err != nil {
		return nil, fmt.Errorf("request media: %w", err)
	}

	timer := time.NewTimer(d.Timeout)
	defer timer.Stop()

	select {
	case err := <-answer:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrAcquireTimeout
	}

	slot := NewFrameSlot(d.onOverwrite)
	d.mu.Lock()
	if d.current != nil {
		d.current.Close()
	}
	d.current = slot
	d.mu.Unlock()
	return &remoteMedia{FrameSlot: slot, devices: d}, nil
}

// Ready reports the client's camera as open.
func (d *RemoteDevices) Ready() bool {
	return d.answer(nil)
}

// Failed reports the client's refusal. reason is shown to the user verbatim.
func (d *RemoteDevices) Failed(reason string) bool {
	if reason == "" {
		reason = "unknown error"
	}
	return d.answer(errors.New(reason))
}

// Disconnected fails a pending acquisition.
func (d *RemoteDevices) Disconnected() {
	d.answer(ErrClientGone)
}

// Frame stores a frame pushed by the client.
func (d *RemoteDevices) Frame(f *scene.Frame) error {
	d.mu.Lock()
	slot := d.current
	d.mu.Unlock()
	if slot == nil {
		return ErrNoMedia
	}
	return slot.Put(f)
}

func (d *RemoteDevices) answer(err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	select {
	case d.pending <- err:
	default:
	}
	d.pending = nil
	return true
}

type remoteMedia struct {
	*FrameSlot
	devices *RemoteDevices
}

func (m *remoteMedia) Close() error {
	m.FrameSlot.Close()

	d := m.devices
	d.mu.Lock()
	if d.current == m.FrameSlot {
		d.current = nil
	}
	d.mu.Unlock()

	if err := d.sender.Send(MsgRelease, nil); err != nil {
		log.Printf("[media] release not delivered: %v", err)
	}
	return nil
}
