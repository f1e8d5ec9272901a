package companion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/analysis/narration"
	scenedetect "github.com/zhouzirui/scene-guide/backend/internal/analysis/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	"github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/model/speech"
	convstore "github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
)

var (
	ErrClosed               = errors.New("session closed")
	ErrStarting             = errors.New("session is already starting")
	ErrStopped              = errors.New("session stopped while starting")
	ErrDescriberUnavailable = errors.New("description service not configured")
	ErrMediaUnavailable     = errors.New("media unavailable")
)

const (
	msgNeedCamera       = "I need to see something through the camera to answer your question. Please make sure the camera is active and pointing at what you want to know about."
	msgApology          = "I apologize, but I encountered an error processing your question: %q. Please try asking again."
	msgMediaFailed      = "Failed to access camera/microphone: "
	msgAnalysisFailed   = "Analysis failed: "
	msgDescriberMissing = "Description service not configured"

	maxErrorLength = 200
	storeTimeout   = 5 * time.Second
)

// Options configures a Controller.
type Options struct {
	SessionID       string
	Guide           guide.Guide
	Settings        session.Settings
	RestartDelay    time.Duration
	RestartMaxDelay time.Duration

	Devices     Devices
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Describer   Describer
	Store       *convstore.Store
	Notifier    Notifier
	Metrics     *metrics.Metrics

	// UnavailableMessage is shown when Start is refused for lack of a describer.
	UnavailableMessage string
}

// Controller owns one session: the capture timer, change detection, request
// dispatch, speech output and speech input. Every state change runs on its loop.
type Controller struct {
	id        string
	guide     guide.Guide
	loop      *Loop
	devices   Devices
	describer Describer
	store     *convstore.Store
	notifier  Notifier
	metrics   *metrics.Metrics

	unavailableMsg string

	sampler    *Sampler
	dispatcher *Dispatcher
	output     *OutputQueue
	input      *InputSession

	// loop-owned
	settings     session.Settings
	flags        session.State
	starting     bool
	run          int
	closed       bool
	media        Media
	lastAccepted []byte
	description  string
	errMsg       string

	snapMu sync.RWMutex
	snap   session.Snapshot
}

// New builds an idle controller and starts its loop.
func New(opts Options) *Controller {
	c := &Controller{
		id:             opts.SessionID,
		guide:          opts.Guide,
		loop:           NewLoop(),
		devices:        opts.Devices,
		describer:      opts.Describer,
		store:          opts.Store,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		unavailableMsg: opts.UnavailableMessage,
		settings:       opts.Settings,
	}
	if c.unavailableMsg == "" {
		c.unavailableMsg = msgDescriberMissing
	}
	if c.store == nil {
		c.store = convstore.NewStore(convstore.NewMemoryBackend(), convstore.Key("", opts.SessionID))
	}

	language := opts.Guide.Language
	if language == "" {
		language = "en-US"
	}

	c.sampler = NewSampler(c.loop, c.tick)
	c.output = NewOutputQueue(c.loop, opts.Synthesizer, opts.Metrics,
		func() bool { return c.settings.AudioEnabled },
		func() bool { return c.input.HasInterim() },
		c.setSpeaking,
	)
	c.output.Voice = opts.Guide.VoiceID
	c.output.Language = language
	c.input = NewInputSession(c.loop, opts.Recognizer,
		speech.RecognitionOptions{Language: language, Continuous: true, InterimResults: true},
		opts.RestartDelay, opts.RestartMaxDelay, opts.Metrics,
		InputHooks{
			Listening: c.output.Cancel,
			Question:  func(text string) { c.ask(text) },
			Interim:   c.setInterim,
			State:     c.setListenState,
			Fatal:     c.setError,
		},
	)
	c.dispatcher = NewDispatcher(c.loop, opts.Describer, opts.Guide.ID, opts.Metrics, c.settle, c.setAnalyzing)

	c.loop.Post(c.publishState)
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Guide returns the guide the session speaks as.
func (c *Controller) Guide() guide.Guide { return c.guide }

// Open restores the persisted conversation.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.store.Open(ctx); err != nil {
		return err
	}
	c.loop.Post(c.publishState)
	return nil
}

// Start acquires media, greets the user and begins sampling. Starting a
// streaming session is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	var (
		err     error
		already bool
		run     int
		req     MediaRequest
	)
	if !c.loop.Do(func() {
		switch {
		case c.closed:
			err = ErrClosed
		case c.flags.Streaming:
			already = true
		case c.starting:
			err = ErrStarting
		case c.describer == nil:
			c.setError(c.unavailableMsg)
			err = ErrDescriberUnavailable
		case c.devices == nil:
			c.setError(msgMediaFailed + "no capture device")
			err = ErrMediaUnavailable
		default:
			c.starting = true
			run = c.run
			req = MediaRequest{Video: true, Width: 640, Height: 480, Audio: c.settings.AudioEnabled}
		}
	}) {
		return ErrClosed
	}
	if err != nil || already {
		return err
	}

	media, acqErr := c.devices.Acquire(ctx, req)

	if !c.loop.Do(func() {
		if run != c.run || c.closed {
			err = ErrStopped
			return
		}
		c.starting = false
		if acqErr != nil {
			c.setError(msgMediaFailed + acqErr.Error())
			err = fmt.Errorf("%w: %v", ErrMediaUnavailable, acqErr)
			return
		}
		c.begin(media)
	}) {
		err = ErrClosed
	}

	if err != nil && media != nil && !errors.Is(err, ErrMediaUnavailable) {
		_ = media.Close()
	}
	return err
}

func (c *Controller) begin(media Media) {
	c.media = media
	c.flags.Streaming = true
	c.errMsg = ""
	c.lastAccepted = nil
	c.metrics.SessionStarted()
	log.Printf("[session] %s streaming started guide=%s", c.id, c.guide.ID)

	if c.guide.OpeningLine != "" {
		c.appendTurn(conversation.RoleAssistant, c.guide.OpeningLine)
		c.output.Speak(c.guide.OpeningLine)
	}
	c.sampler.Start(c.settings.CaptureInterval)
	c.publishState()
}

// Stop tears the session down: timer, media, recognition, speech, the
// conversation and every flag. Each step runs even if an earlier one fails.
func (c *Controller) Stop(ctx context.Context) error {
	var err error
	if !c.loop.Do(func() { err = c.teardown(ctx, true) }) {
		return ErrClosed
	}
	return err
}

// Shutdown tears the session down without clearing the persisted
// conversation and stops the loop. It is safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.loop.Do(func() {
		if c.closed {
			return
		}
		err = c.teardown(ctx, false)
		c.closed = true
	})
	c.dispatcher.Close()
	c.loop.Close()
	return err
}

func (c *Controller) teardown(ctx context.Context, clear bool) error {
	var errs []error

	c.run++
	c.starting = false
	c.sampler.Stop()

	if c.media != nil {
		if err := c.media.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release media: %w", err))
		}
		c.media = nil
	}
	if err := c.input.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop recognition: %w", err))
	}
	c.output.Cancel()
	if clear {
		if err := c.store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear conversation: %w", err))
		}
	}
	c.dispatcher.Reset()

	if c.flags.Streaming {
		c.metrics.SessionStopped()
		log.Printf("[session] %s streaming stopped", c.id)
	}
	c.flags = session.State{}
	c.lastAccepted = nil
	c.description = ""
	c.errMsg = ""
	c.publishState()

	err := errors.Join(errs...)
	if err != nil {
		log.Printf("[session] %s teardown: %v", c.id, err)
	}
	return err
}

// Ask handles a question as if it had been spoken.
func (c *Controller) Ask(question string) bool {
	var ok bool
	c.loop.Do(func() { ok = c.ask(question) })
	return ok
}

// Listen starts speech recognition.
func (c *Controller) Listen() error {
	var err error
	if !c.loop.Do(func() {
		if err = c.input.Start(); err != nil {
			c.setError(err.Error())
			return
		}
		c.errMsg = ""
		c.publishState()
	}) {
		return ErrClosed
	}
	return err
}

// Unlisten stops speech recognition.
func (c *Controller) Unlisten() error {
	var err error
	if !c.loop.Do(func() { err = c.input.Stop() }) {
		return ErrClosed
	}
	return err
}

// UpdateSettings applies a validated settings patch. A new capture interval
// reinstalls the timer; disabling audio cancels the current utterance.
func (c *Controller) UpdateSettings(patch session.SettingsPatch) (session.Settings, error) {
	var (
		updated session.Settings
		err     error
	)
	if !c.loop.Do(func() {
		updated, err = patch.Apply(c.settings)
		if err != nil {
			return
		}
		previous := c.settings
		c.settings = updated
		if updated.CaptureInterval != previous.CaptureInterval {
			c.sampler.Reconfigure(updated.CaptureInterval)
		}
		if !updated.AudioEnabled {
			c.output.Cancel()
		}
		c.publishState()
	}) {
		return session.Settings{}, ErrClosed
	}
	return updated, err
}

// ClearConversation wipes the transcript without stopping the session.
func (c *Controller) ClearConversation(ctx context.Context) error {
	var err error
	if !c.loop.Do(func() {
		err = c.store.Clear(ctx)
		c.publishState()
	}) {
		return ErrClosed
	}
	return err
}

// Turns returns the conversation so far.
func (c *Controller) Turns() []conversation.Turn {
	return c.store.Turns()
}

// Snapshot returns the last published view of the session.
func (c *Controller) Snapshot() session.Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

func (c *Controller) tick() {
	if !c.flags.Streaming {
		return
	}
	frame := c.currentFrame()
	if frame == nil {
		c.metrics.SkippedTick(metrics.SkipNoFrame)
		return
	}
	if c.dispatcher.Analyzing() {
		c.metrics.SkippedTick(metrics.SkipAnalyzing)
		return
	}
	detector := scenedetect.Detector{Threshold: c.settings.ChangeThreshold}
	if !detector.Changed(frame.Data, c.lastAccepted) {
		c.metrics.SkippedTick(metrics.SkipUnchanged)
		return
	}
	c.dispatcher.Analyze(frame, "", scene.OriginAutonomous)
}

func (c *Controller) ask(question string) bool {
	question = strings.TrimSpace(question)
	if question == "" {
		return false
	}
	c.appendTurn(conversation.RoleUser, question)

	frame := c.currentFrame()
	if frame == nil {
		c.appendTurn(conversation.RoleAssistant, msgNeedCamera)
		c.output.Speak(msgNeedCamera)
		return true
	}
	if c.describer == nil {
		c.setError(c.unavailableMsg)
		c.appendTurn(conversation.RoleAssistant, fmt.Sprintf(msgApology, question))
		return true
	}

	c.dispatcher.Analyze(frame, question, scene.OriginVoice)
	return true
}

func (c *Controller) settle(res Result) {
	req := res.Request
	if req.Origin == scene.OriginVoice {
		if res.Err != nil {
			log.Printf("[session] %s voice request %s failed: %v", c.id, req.ID, res.Err)
			c.setError(msgAnalysisFailed + shortError(res.Err))
			c.appendTurn(conversation.RoleAssistant, fmt.Sprintf(msgApology, req.Question))
			return
		}
		c.errMsg = ""
		c.appendTurn(conversation.RoleAssistant, res.Text)
		c.output.Speak(res.Text)
		c.publishState()
		return
	}

	if !c.flags.Streaming {
		return
	}
	if res.Err != nil {
		log.Printf("[session] %s autonomous request %s failed: %v", c.id, req.ID, res.Err)
		c.setError(msgAnalysisFailed + shortError(res.Err))
		return
	}

	c.description = res.Text
	c.lastAccepted = req.Frame.Data
	c.errMsg = ""
	c.notify(EventDescription, map[string]any{"text": res.Text, "requestId": req.ID})
	if narration.Worthy(res.Text) && !res.VoiceSince {
		c.output.Speak(res.Text)
	}
	c.publishState()
}

func (c *Controller) currentFrame() *scene.Frame {
	if c.media == nil {
		return nil
	}
	frame, ok := c.media.Capture()
	if !ok || frame.Empty() {
		return nil
	}
	return frame
}

func (c *Controller) appendTurn(role conversation.Role, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	turn, err := c.store.Append(ctx, conversation.Turn{Role: role, Text: text, CapturedAt: time.Now()})
	if errors.Is(err, convstore.ErrEmptyTurn) {
		return
	}
	if err != nil {
		log.Printf("[session] %s persist turn: %v", c.id, err)
	}
	c.notify(EventTurn, turn)
}

func (c *Controller) setError(msg string) {
	c.errMsg = msg
	c.notify(EventError, map[string]string{"message": msg})
	c.publishState()
}

func (c *Controller) setSpeaking(speaking bool) {
	c.flags.Speaking = speaking
	c.publishState()
}

func (c *Controller) setAnalyzing(analyzing bool) {
	if c.flags.Analyzing == analyzing {
		return
	}
	c.flags.Analyzing = analyzing
	c.publishState()
}

func (c *Controller) setInterim(text string) {
	c.notify(EventTranscript, map[string]any{"interim": text})
	c.publishState()
}

func (c *Controller) setListenState(state session.ListenState) {
	c.flags.Listening = state != session.ListenIdle
	c.publishState()
}

func (c *Controller) publishState() {
	snap := session.Snapshot{
		ID:                c.id,
		GuideID:           c.guide.ID,
		Streaming:         c.flags.Streaming,
		Analyzing:         c.flags.Analyzing,
		Listening:         c.flags.Listening,
		Speaking:          c.flags.Speaking,
		ListenState:       c.input.State(),
		AudioEnabled:      c.settings.AudioEnabled,
		ChangeThreshold:   c.settings.ChangeThreshold,
		CaptureIntervalMs: c.settings.CaptureInterval.Milliseconds(),
		Description:       c.description,
		Interim:           c.input.Interim(),
		Error:             c.errMsg,
		Turns:             c.store.Len(),
		UpdatedAt:         time.Now(),
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.notify(EventState, snap)
}

func (c *Controller) notify(kind string, data any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Event{Type: kind, SessionID: c.id, Data: data, Timestamp: time.Now()})
}

func shortError(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength] + "..."
	}
	return msg
}
