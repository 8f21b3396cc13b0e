package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Timezone:  "America/New_York",
		},
		Slack: SlackConfig{
			SocketMode:   true,
			NotifyDenied: true,
		},
		LLM: LLMConfig{
			APIBase: "https://ai.hackclub.com/proxy/v1",
			Models: []string{
				"google/gemini-3-flash-preview",
				"google/gemini-2.5-flash",
				"openai/gpt-5-mini",
			},
			SummaryModel:       "google/gemini-2.5-flash",
			MaxTokens:          4096,
			Temperature:        1.1,
			SummaryTemperature: 0.7,
			TimeoutSeconds:     120,
			RateLimitPerMinute: 60,
			RateBurst:          10,
			CooldownSeconds:    30,
		},
		Agent: AgentConfig{
			Toolset:       "minimal",
			Concurrency:   8,
			BusSize:       100,
			HistoryLimit:  50,
			HistoryTokens: 12000,
		},
		Limits: LimitsConfig{
			RateWindowSeconds: 30,
			RateMax:           7,
			QuotaThreshold:    10,
			QuotaTTLSeconds:   3600,
		},
		Store: StoreConfig{
			Backend:      "memory",
			KeyPrefix:    "relaybot:",
			SQLitePath:   "~/.relaybot/counters.db",
			SweepSeconds: 60,
		},
		Tools: ToolsConfig{
			TimeoutSeconds:  30,
			ExaURL:          "https://api.exa.ai/search",
			DiagramRenderer: "ink",
			MermaidInkURL:   "https://mermaid.ink",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
	}
}
