package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gerkensm/vaporvibe/internal/config"
	"github.com/gerkensm/vaporvibe/internal/domain"
	"github.com/gerkensm/vaporvibe/internal/llm"
	"github.com/gerkensm/vaporvibe/internal/pending"
	"github.com/gerkensm/vaporvibe/internal/service"
	"github.com/gerkensm/vaporvibe/internal/session"
	"github.com/gerkensm/vaporvibe/internal/stream"
	transport "github.com/gerkensm/vaporvibe/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the render server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(v)
		},
	}

	cfg := config.Load()
	flags := cmd.Flags()
	flags.String("host", cfg.Host, "listen address")
	flags.Int("port", cfg.Port, "listen port")
	flags.String("brief", cfg.Brief, "application brief driving every generation")
	flags.String("brief-file", "", "file containing the application brief")
	flags.StringSlice("brief-attachment", cfg.BriefAttachmentPaths, "file attached to every prompt alongside the brief (repeatable)")
	flags.String("provider", cfg.Provider, "model provider")
	flags.String("model", cfg.Model, "model identifier")
	flags.String("base-url", cfg.BaseURL, "override the provider API base URL")
	flags.Int("history-limit", cfg.HistoryLimit, "maximum prior turns per prompt")
	flags.Int("history-max-bytes", cfg.HistoryMaxBytes, "history byte budget per prompt")
	flags.Duration("session-ttl", cfg.SessionTTL, "idle session lifetime (0 = unlimited)")
	flags.Int("session-cap", cfg.SessionCap, "maximum live sessions")
	flags.Int("max-output-tokens", cfg.MaxOutputTokens, "output token limit per generation")
	flags.String("reasoning-effort", cfg.ReasoningEffort, "reasoning effort hint passed to the model")
	flags.Duration("generation-timeout", cfg.GenerationTimeout, "upper bound on a single generation")
	flags.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	v.SetEnvPrefix("VAPORVIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func runServe(v *viper.Viper) error {
	cfg := config.Load()
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.Brief = v.GetString("brief")
	cfg.Provider = v.GetString("provider")
	cfg.Model = v.GetString("model")
	cfg.BaseURL = v.GetString("base-url")
	cfg.HistoryLimit = v.GetInt("history-limit")
	cfg.HistoryMaxBytes = v.GetInt("history-max-bytes")
	cfg.SessionTTL = v.GetDuration("session-ttl")
	cfg.SessionCap = v.GetInt("session-cap")
	cfg.MaxOutputTokens = v.GetInt("max-output-tokens")
	cfg.ReasoningEffort = v.GetString("reasoning-effort")
	cfg.GenerationTimeout = v.GetDuration("generation-timeout")
	cfg.LogLevel = v.GetString("log-level")

	if briefFile := v.GetString("brief-file"); briefFile != "" {
		content, err := os.ReadFile(briefFile)
		if err != nil {
			return fmt.Errorf("read brief file: %w", err)
		}
		cfg.Brief = string(content)
	}
	if strings.TrimSpace(cfg.Brief) == "" {
		return errors.New("an application brief is required (--brief, --brief-file, or VAPORVIBE_BRIEF)")
	}
	if cfg.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}

	attachments, err := loadAttachments(v.GetStringSlice("brief-attachment"))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ReasoningEffort: cfg.ReasoningEffort,
	})

	orch := service.New(cfg,
		session.New(cfg.SessionTTL, cfg.SessionCap),
		pending.New(cfg.PendingTTL),
		stream.NewRegistry(cfg.StreamTTL),
		client, logger)
	orch.SetBriefAttachments(attachments)

	e := transport.NewServer(orch, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("vaporvibe listening", "addr", addr, "model", cfg.Model, "provider", cfg.Provider)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadAttachments reads each path into an attachment, deriving the MIME
// type from the file extension.
func loadAttachments(paths []string) ([]domain.Attachment, error) {
	var out []domain.Attachment
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read brief attachment: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		out = append(out, domain.Attachment{
			ID:       uuid.NewString(),
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Size:     len(content),
			Base64:   base64.StdEncoding.EncodeToString(content),
		})
	}
	return out, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
