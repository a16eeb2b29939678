package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:         "info",
			ListenAddr:       ":8080",
			QueueSize:        256,
			Workers:          4,
			ProviderPriority: []string{"openai", "claude"},
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"claude": {
				DefaultModel: "claude-3-5-haiku-20241022",
			},
		},
		Channel: ChannelConfig{
			WebhookPath: "/webhook/whatsapp",
		},
		Speech: SpeechConfig{
			STT: STTConfig{
				APIBase:  "https://api.openai.com/v1",
				Model:    "whisper-1",
				Language: "ar",
			},
			TTS: TTSConfig{
				Provider: "openai",
				APIBase:  "https://api.openai.com/v1",
				Model:    "tts-1",
				Voice:    "nova",
			},
		},
		Storage: StorageConfig{
			DBPath: "~/.mamacare/mamacare.db",
		},
		Alerts: AlertsConfig{
			Enabled:    false,
			MinUrgency: "critical",
		},
		Media: MediaConfig{
			Dir:           "~/.mamacare/media",
			PublicBaseURL: "http://localhost:8080",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
