package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	convmodel "github.com/zhouzirui/scene-guide/backend/internal/model/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	sessionmodel "github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/service/ai"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/service/media"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

type runOptions struct {
	images    string
	hold      time.Duration
	guideID   string
	sessionID string
	interval  time.Duration
	threshold float64
	mute      bool
	instant   bool
	audioDir  string
	linger    time.Duration
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a live session against a directory of images",
		Long: `Run starts a session whose camera cycles through the images in --images.
Every line typed on stdin is asked as a question. The session ends on
Ctrl-C, or --linger after stdin closes. The conversation is kept in the
configured store; pass the same --session to pick it up again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.images, "images", "", "directory of jpeg/png/webp frames (required)")
	f.DurationVar(&opts.hold, "hold", 3*time.Second, "how long each image stays in front of the camera")
	f.StringVar(&opts.guideID, "guide", "", "guide id, defaults to SESSION_GUIDE")
	f.StringVar(&opts.sessionID, "session", "", "session id, used to resume a stored conversation")
	f.DurationVar(&opts.interval, "interval", 0, "capture interval, defaults to SESSION_CAPTURE_INTERVAL_MS")
	f.Float64Var(&opts.threshold, "threshold", 0, "change threshold in (0, 1], defaults to SESSION_CHANGE_THRESHOLD")
	f.BoolVar(&opts.mute, "mute", false, "do not speak descriptions")
	f.BoolVar(&opts.instant, "instant", false, "do not simulate playback time")
	f.StringVar(&opts.audioDir, "audio-dir", "", "render every utterance to this directory with server TTS")
	f.DurationVar(&opts.linger, "linger", 10*time.Second, "time to wait for pending answers after stdin closes")
	_ = cmd.MarkFlagRequired("images")
	return cmd
}

// settingsPatch turns flags into a settings update. Zero flags are left unset.
func (o runOptions) settingsPatch() sessionmodel.SettingsPatch {
	var patch sessionmodel.SettingsPatch
	if o.interval > 0 {
		ms := o.interval.Milliseconds()
		patch.CaptureIntervalMs = &ms
	}
	if o.threshold != 0 {
		threshold := o.threshold
		patch.ChangeThreshold = &threshold
	}
	if o.mute {
		audio := false
		patch.AudioEnabled = &audio
	}
	return patch
}

func runSession(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guides := guide.NewMemoryStore(guide.Seed())
	if cfg.GuidesPath != "" {
		items, err := guide.LoadFile(cfg.GuidesPath)
		if err != nil {
			return err
		}
		guides = guide.NewMemoryStore(items)
	}
	guideID := opts.guideID
	if guideID == "" {
		guideID = cfg.Session.GuideID
	}
	g, ok := guides.FindByID(guideID)
	if !ok {
		return fmt.Errorf("unknown guide %q", guideID)
	}

	settings, err := opts.settingsPatch().Apply(cfg.Session.Settings())
	if err != nil {
		return err
	}

	oracle, err := ai.NewFromConfig(ctx, cfg, guides)
	if err != nil {
		return fmt.Errorf("description service: %w", err)
	}

	backend, err := conversation.NewBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	out := cmd.OutOrStdout()
	synth := &speech.LogSynthesizer{Out: out, Instant: opts.instant}
	if opts.audioDir != "" {
		if !cfg.Speech.Enabled {
			return errors.New("--audio-dir needs SPEECH_* credentials")
		}
		if err := os.MkdirAll(opts.audioDir, 0o755); err != nil {
			return err
		}
		synth.Renderer = speech.NewTTSClient(cfg.Speech.Client())
		synth.Dir = opts.audioDir
	}
	rec := speech.NewLineRecognizer(cmd.InOrStdin())

	ctl := companion.New(companion.Options{
		SessionID:       sessionID,
		Guide:           g,
		Settings:        settings,
		RestartDelay:    cfg.Session.RestartDelay,
		RestartMaxDelay: cfg.Session.RestartMaxDelay,
		Devices:         media.DirDevices{Dir: opts.images, Hold: opts.hold},
		Recognizer:      rec,
		Synthesizer:     synth,
		Describer:       oracle,
		Store:           conversation.NewStore(backend, conversation.Key(cfg.Storage.Prefix, sessionID)),
		Notifier:        newPrinter(out),
	})
	defer ctl.Shutdown(context.Background())

	if err := ctl.Open(ctx); err != nil {
		return err
	}
	if n := len(ctl.Turns()); n > 0 {
		fmt.Fprintf(out, "resumed session %s with %d turns\n", sessionID, n)
	}
	if err := ctl.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := ctl.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintf(out, "session %s running as %s; type a question and press enter\n", sessionID, g.Name)

	select {
	case <-ctx.Done():
	case <-rec.Done():
		select {
		case <-ctx.Done():
		case <-time.After(opts.linger):
		}
	}
	// Shutdown keeps the conversation so --session can resume it.
	return ctl.Shutdown(context.Background())
}

// printer writes session events as they happen.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Notify(e companion.Event) {
	var line string
	switch data := e.Data.(type) {
	case convmodel.Turn:
		line = fmt.Sprintf("%s: %s", data.Role, data.Text)
	case map[string]string:
		if e.Type != companion.EventError {
			return
		}
		line = "error: " + data["message"]
	case map[string]any:
		if e.Type != companion.EventTranscript || data["interim"] == "" {
			return
		}
		line = fmt.Sprintf("hearing: %v", data["interim"])
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", e.Timestamp.Format("15:04:05"), line)
}
