package config

const (
	DefaultTypingText    = "_is typing..._"
	DefaultThreadApology = "I'm sorry, but I cannot respond to messages in threads. Please send a direct message instead."
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		LLM: LLMConfig{
			Endpoint:       "http://localhost:8080/v1/chat/completions",
			TimeoutSeconds: 120,
		},
		History: HistoryConfig{
			Size:    20,
			Backend: "memory",
		},
		Chat: ChatConfig{
			TranscriptLimit:      20,
			TypingTimeoutSeconds: 60,
			TypingText:           DefaultTypingText,
			ThreadApology:        DefaultThreadApology,
			SerializePerUser:     true,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     9090,
			Endpoint: "/metrics",
		},
	}
}
