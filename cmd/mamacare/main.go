package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mamacare/internal/alert"
	"mamacare/internal/assets"
	"mamacare/internal/channel"
	"mamacare/internal/config"
	"mamacare/internal/domain"
	"mamacare/internal/metrics"
	"mamacare/internal/pipeline"
	"mamacare/internal/provider"
	"mamacare/internal/reply"
	"mamacare/internal/speech"
	"mamacare/internal/store"
	"mamacare/internal/summary"
	"mamacare/internal/triage"
)

var (
	version    = "0.3.1"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "mamacare",
		Short: "mamacare: maternal health monitoring gateway",
		Long:  "mamacare receives patient messages over WhatsApp, triages urgency, replies in the patient's language, and keeps the clinical record current.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mamacare/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(triageCmd())
	root.AddCommand(patientCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, using stderr", "path", cfg.General.LogFile, "err", err)
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Media.Dir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			if prov, err := provider.Select(cfg.General.ProviderPriority, cfg.Providers, logger); err != nil {
				logger.Warn("chat provider", "configured", false, "err", err)
			} else {
				logger.Info("chat provider", "configured", true, "provider", prov.Name())
			}
			logger.Info("speech", "stt_key", cfg.Speech.STT.APIKey != "", "tts_key", cfg.Speech.TTS.APIKey != "")
			logger.Info("channel", "access_token", cfg.Channel.AccessToken != "", "verify_token", cfg.Channel.VerifyToken != "")
			logger.Info("alerts", "enabled", cfg.Alerts.Enabled)
			return nil
		},
	}
}

func triageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triage [text]",
		Short: "Classify a message text against the triage rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rulesPath := ""
			if cfg, err := config.Load(resolveConfigPath()); err == nil {
				rulesPath = cfg.Triage.RulesPath
			}
			rules, err := triage.LoadRules(rulesPath)
			if err != nil {
				return err
			}
			classifier := triage.NewClassifier(rules)
			fmt.Println(classifier.Classify(strings.Join(args, " ")))
			return nil
		},
	}
}

func patientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage enrolled patients",
	}

	var name, address, language string
	var week int
	add := &cobra.Command{
		Use:   "add",
		Short: "Enroll a patient (the pipeline never creates patients on its own)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || address == "" {
				return fmt.Errorf("--name and --address are required")
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.CreatePatient(cmd.Context(), domain.Patient{
				Name:            name,
				Address:         channel.NormalizeAddress(address),
				Language:        language,
				GestationalWeek: week,
			})
			if err != nil {
				return err
			}
			logger.Info("patient enrolled", "id", p.ID, "address", p.Address, "language", p.Language)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "patient name")
	add.Flags().StringVar(&address, "address", "", "phone address (digits only after normalization)")
	add.Flags().StringVar(&language, "language", "fr", "reply language: ar, fr, dar")
	add.Flags().IntVar(&week, "week", 0, "gestational week")
	cmd.AddCommand(add)

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the gateway configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(resolveConfigPath())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
			for name, pc := range cfg.Providers {
				pc.APIKey = redact(pc.APIKey)
				redacted.Providers[name] = pc
			}
			redacted.Channel.AccessToken = redact(cfg.Channel.AccessToken)
			redacted.Channel.AppSecret = redact(cfg.Channel.AppSecret)
			redacted.Speech.STT.APIKey = redact(cfg.Speech.STT.APIKey)
			redacted.Speech.TTS.APIKey = redact(cfg.Speech.TTS.APIKey)
			redacted.Alerts.TelegramToken = redact(cfg.Alerts.TelegramToken)

			data, err := json.MarshalIndent(&redacted, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway (webhook + pipeline workers)",
		Long:  "Starts the WhatsApp webhook, the media server, and the pipeline workers. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer st.Close()

	rules, err := triage.LoadRules(cfg.Triage.RulesPath)
	if err != nil {
		// A broken rules file must not take triage down; the built-in table
		// still applies.
		logger.Warn("triage rules file ignored", "err", err)
	}
	classifier := triage.NewClassifier(rules)

	chatProv, err := provider.Select(cfg.General.ProviderPriority, cfg.Providers, logger)
	if err != nil {
		return fmt.Errorf("chat provider: %w", err)
	}

	mediaStore, err := assets.NewStore(cfg.Media.Dir, cfg.Media.PublicBaseURL, logger)
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}

	var notifier domain.Notifier
	if cfg.Alerts.Enabled {
		tg, err := alert.NewTelegram(alert.TelegramConfig{
			Token:      cfg.Alerts.TelegramToken,
			ChatID:     cfg.Alerts.ChatID,
			MinUrgency: cfg.Alerts.MinUrgency,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("clinician alerts disabled", "err", err)
		} else {
			notifier = tg
		}
	}

	queue := pipeline.NewQueue(cfg.General.QueueSize, logger)
	defer queue.Close()

	orch := pipeline.New(pipeline.Config{
		Store:      st,
		Classifier: classifier,
		Generator:  reply.NewGenerator(chatProv, logger),
		Summarizer: summary.NewSummarizer(chatProv, logger),
		STT: speech.NewSTT(speech.STTConfig{
			APIBase:  cfg.Speech.STT.APIBase,
			APIKey:   cfg.Speech.STT.APIKey,
			Model:    cfg.Speech.STT.Model,
			Language: cfg.Speech.STT.Language,
			Logger:   logger,
		}),
		TTS: speech.NewTTS(speech.TTSConfig{
			Provider: cfg.Speech.TTS.Provider,
			APIBase:  cfg.Speech.TTS.APIBase,
			APIKey:   cfg.Speech.TTS.APIKey,
			Model:    cfg.Speech.TTS.Model,
			Voice:    cfg.Speech.TTS.Voice,
			Logger:   logger,
		}),
		Assets:   mediaStore,
		Notifier: notifier,
		Queue:    queue,
		Logger:   logger,
		Workers:  cfg.General.Workers,
	})

	wa := channel.NewWhatsApp(channel.WhatsAppConfig{
		Config:   cfg.Channel,
		Ingestor: orch,
		Logger:   logger,
	})
	orch.SetMessenger(wa)

	go orch.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/webhook/", wa.Handler())
	mux.Handle("/media/", mediaStore.Handler())
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok %s\n", version)
	})

	server := &http.Server{
		Addr:              cfg.General.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.General.ListenAddr, "webhook", cfg.Channel.WebhookPath, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway...")
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, forcing exit", "err", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
