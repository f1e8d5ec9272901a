package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
	speechmodel "github.com/zhouzirui/scene-guide/backend/internal/model/speech"
	"github.com/zhouzirui/scene-guide/backend/internal/service/speech"
)

var errSpeechDisabled = errors.New("speech service not enabled, set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")

func speechConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Speech.Enabled {
		return nil, errSpeechDisabled
	}
	return cfg, nil
}

func newTTSCmd() *cobra.Command {
	var text, voice, language, out, session string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "tts",
		Short: "Synthesize text with the Volcengine TTS service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := speechConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("--text is required")
			}
			if voice == "" {
				voice = cfg.Speech.TTSVoice
			}
			if language == "" {
				language = cfg.Speech.TTSLanguage
			}
			if session == "" {
				session = fmt.Sprintf("manual-%d", time.Now().UnixNano())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Printf("TTS check: session=%s voice=%s language=%s", session, voice, language)
			resp, err := speech.NewTTSClient(cfg.Speech.Client()).Synthesize(ctx, &speechmodel.TTSRequest{
				SessionID: session,
				Text:      text,
				Voice:     voice,
				Language:  language,
			})
			if err != nil {
				return fmt.Errorf("tts: %w", err)
			}

			if out == "" {
				out = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
			}
			if err := os.WriteFile(out, resp.AudioData, 0o644); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %dms)\n", out, len(resp.AudioData), resp.Duration)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&text, "text", "", "text to synthesize")
	f.StringVar(&voice, "voice", "", "voice id or alias, defaults to SPEECH_TTS_VOICE")
	f.StringVar(&language, "lang", "", "language code, defaults to SPEECH_TTS_LANGUAGE")
	f.StringVar(&out, "out", "", "output file, derived from the format when empty")
	f.StringVar(&session, "session", "", "session id, generated when empty")
	f.DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	return cmd
}

func newASRCmd() *cobra.Command {
	var audio, format, language, session string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "asr",
		Short: "Transcribe an audio file with the Volcengine ASR service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := speechConfig()
			if err != nil {
				return err
			}
			if audio == "" {
				return errors.New("--audio is required")
			}

			file, err := os.Open(audio)
			if err != nil {
				return fmt.Errorf("open audio: %w", err)
			}
			defer file.Close()

			if format == "" {
				format = audioFormat(audio)
			}
			if language == "" {
				language = cfg.Speech.ASRLanguage
			}
			if session == "" {
				session = fmt.Sprintf("manual-%d", time.Now().UnixNano())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Printf("ASR check: session=%s format=%s language=%s", session, format, language)
			resp, err := speech.NewASRClient(cfg.Speech.Client()).Transcribe(ctx, &speechmodel.ASRRequest{
				SessionID: session,
				AudioData: file,
				Format:    format,
				Language:  language,
			})
			if err != nil {
				return fmt.Errorf("asr: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "text=%q confidence=%.2f duration=%dms\n", resp.Text, resp.Confidence, resp.Duration)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&audio, "audio", "", "audio file to transcribe")
	f.StringVar(&format, "format", "", "audio format, taken from the file extension when empty")
	f.StringVar(&language, "lang", "", "language code, defaults to SPEECH_ASR_LANGUAGE")
	f.StringVar(&session, "session", "", "session id, generated when empty")
	f.DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	return cmd
}

// audioFormat guesses the format from the file extension, wav by default.
func audioFormat(path string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	return "wav"
}
