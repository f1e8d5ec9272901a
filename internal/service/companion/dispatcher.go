package companion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
)

// Result is a settled description request.
type Result struct {
	Request scene.AnalysisRequest
	Text    string
	Err     error
	Elapsed time.Duration

	// VoiceSince is true when a voice request was in flight or dispatched
	// while this request was outstanding.
	VoiceSince bool
}

// Dispatcher sends frames to the description service. Autonomous requests are
// single-flight through a gate; voice requests always go out. All methods run
// on the loop; describer calls run on their own goroutine and settle back onto
// the loop.
type Dispatcher struct {
	loop      *Loop
	describer Describer
	metrics   *metrics.Metrics
	gate      *Gate
	onSettled func(Result)
	onBusy    func(analyzing bool)

	guideID string

	ctx        context.Context
	cancel     context.CancelFunc
	generation int
	voice      int
	voiceEpoch uint64
}

// NewDispatcher builds a dispatcher. onSettled receives every result of the
// current generation; onBusy observes the analyzing flag.
func NewDispatcher(loop *Loop, describer Describer, guideID string, m *metrics.Metrics, onSettled func(Result), onBusy func(bool)) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		loop:      loop,
		describer: describer,
		metrics:   m,
		gate:      NewGate(),
		onSettled: onSettled,
		onBusy:    onBusy,
		guideID:   guideID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Analyzing reports whether any request is outstanding.
func (d *Dispatcher) Analyzing() bool {
	return d.gate.Held() || d.voice > 0
}

// Analyze dispatches a request. Autonomous requests are skipped, returning
// false, while another autonomous request is outstanding.
func (d *Dispatcher) Analyze(frame *scene.Frame, question string, origin scene.Origin) bool {
	req := scene.AnalysisRequest{
		ID:       uuid.NewString(),
		Frame:    frame,
		Question: question,
		Origin:   origin,
		GuideID:  d.guideID,
	}

	gen := d.generation
	var release func()
	if origin == scene.OriginAutonomous {
		r, ok := d.gate.TryAcquire()
		if !ok {
			return false
		}
		release = r
	} else {
		d.voice++
		d.voiceEpoch++
		released := false
		release = func() {
			if released {
				return
			}
			released = true
			if gen == d.generation {
				d.voice--
			}
		}
	}
	epoch := d.voiceEpoch
	voiceBefore := d.voice > 0 && origin == scene.OriginAutonomous

	d.onBusy(true)
	ctx := d.ctx

	go func() {
		res := d.describe(ctx, req)
		settled := d.loop.Post(func() {
			release()
			res.VoiceSince = voiceBefore || d.voiceEpoch != epoch || d.voice > 0
			d.settle(gen, res)
		})
		if !settled && origin == scene.OriginAutonomous {
			release()
		}
	}()
	return true
}

// Reset abandons outstanding requests. Their results are dropped and their
// hold on the analyzing flag is cleared immediately.
func (d *Dispatcher) Reset() {
	d.cancel()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.generation++
	d.gate = NewGate()
	d.voice = 0
	d.onBusy(d.Analyzing())
}

// Close cancels outstanding requests for good.
func (d *Dispatcher) Close() {
	d.cancel()
}

func (d *Dispatcher) describe(ctx context.Context, req scene.AnalysisRequest) (res Result) {
	res.Request = req
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("description panicked: %v", r)
			log.Printf("[dispatch] request %s panicked: %v", req.ID, r)
		}
		res.Elapsed = time.Since(started)
		d.metrics.Analysis(string(req.Origin), res.Elapsed, res.Err)
	}()

	res.Text, res.Err = d.describer.Describe(ctx, req)
	return res
}

func (d *Dispatcher) settle(gen int, res Result) {
	if gen != d.generation {
		log.Printf("[dispatch] dropping stale %s result %s", res.Request.Origin, res.Request.ID)
		return
	}
	d.onBusy(d.Analyzing())
	d.onSettled(res)
}
