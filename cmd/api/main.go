package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
	"github.com/zhouzirui/scene-guide/backend/internal/handler"
	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/service/ai"
	"github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
	"github.com/zhouzirui/scene-guide/backend/internal/service/session"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	guides, err := loadGuides(cfg.GuidesPath)
	if err != nil {
		log.Fatalf("failed to load guides: %v", err)
	}

	backend, err := conversation.NewBackend(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}

	var m *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		m = metrics.New()
	}

	deps := session.Deps{
		Guides:  guides,
		Backend: backend,
		Metrics: m,
		Session: cfg.Session,
		Prefix:  cfg.Storage.Prefix,
	}

	// Initialize description service
	oracle, err := ai.NewFromConfig(ctx, cfg, guides)
	if err != nil {
		log.Printf("warning: description service unavailable: %v", err)
		log.Println("continuing without scene descriptions - sessions will refuse to start")
		deps.UnavailableMessage = firstLine(err.Error())
	} else {
		deps.Describer = oracle
	}

	// Initialize Speech service
	if cfg.Speech.Enabled {
		speechCfg := cfg.Speech.Client()
		if cfg.Speech.ServerSynthesis {
			deps.Renderer = speech.NewTTSClient(speechCfg)
			log.Println("server speech synthesis enabled")
		}
		if cfg.Speech.ServerRecognition {
			deps.Transcriber = speech.NewASRClient(speechCfg)
			deps.AudioFormat = cfg.Speech.ASRFormat
			deps.ASRTimeout = time.Duration(cfg.Speech.Timeout) * time.Second
			log.Println("server speech recognition enabled")
		}
	} else {
		log.Println("speech credentials not configured, using the client's voice and recognizer")
	}

	sessions := session.NewManager(deps)
	router := handler.NewRouter(guides, sessions, m, cfg.Server.CORSOrigins)

	startServer(ctx, cfg.Server, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
}

// loadGuides returns the built-in guides, overridden by path when set.
func loadGuides(path string) (*guide.MemoryStore, error) {
	if path == "" {
		return guide.NewMemoryStore(guide.Seed()), nil
	}
	items, err := guide.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded guides from %s", path)
	return guide.NewMemoryStore(items), nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Scene Guide backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
