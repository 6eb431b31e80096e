package config

import (
	"fmt"
	"strconv"
	"strings"
)

// setting is one key reachable from `hyfa config`, addressed as section.key.
type setting struct {
	path   string
	ref    func(*Config) any // *string, *int or *bool into cfg
	secret bool
}

var settings = []setting{
	{path: "general.logLevel", ref: func(c *Config) any { return &c.General.LogLevel }},
	{path: "general.logFormat", ref: func(c *Config) any { return &c.General.LogFormat }},
	{path: "general.logFile", ref: func(c *Config) any { return &c.General.LogFile }},

	{path: "slack.botToken", ref: func(c *Config) any { return &c.Slack.BotToken }, secret: true},
	{path: "slack.appToken", ref: func(c *Config) any { return &c.Slack.AppToken }, secret: true},
	{path: "slack.signingSecret", ref: func(c *Config) any { return &c.Slack.SigningSecret }, secret: true},
	{path: "slack.debug", ref: func(c *Config) any { return &c.Slack.Debug }},

	{path: "llm.endpoint", ref: func(c *Config) any { return &c.LLM.Endpoint }},
	{path: "llm.authToken", ref: func(c *Config) any { return &c.LLM.AuthToken }, secret: true},
	{path: "llm.model", ref: func(c *Config) any { return &c.LLM.Model }},
	{path: "llm.timeoutSeconds", ref: func(c *Config) any { return &c.LLM.TimeoutSeconds }},
	{path: "llm.maxRetries", ref: func(c *Config) any { return &c.LLM.MaxRetries }},
	{path: "llm.includeFunctionsInfo", ref: func(c *Config) any { return &c.LLM.IncludeFunctionsInfo }},
	{path: "llm.includeRetrievalInfo", ref: func(c *Config) any { return &c.LLM.IncludeRetrievalInfo }},
	{path: "llm.includeGuardrailsInfo", ref: func(c *Config) any { return &c.LLM.IncludeGuardrailsInfo }},

	{path: "history.size", ref: func(c *Config) any { return &c.History.Size }},
	{path: "history.backend", ref: func(c *Config) any { return &c.History.Backend }},

	{path: "chat.transcriptLimit", ref: func(c *Config) any { return &c.Chat.TranscriptLimit }},
	{path: "chat.typingTimeoutSeconds", ref: func(c *Config) any { return &c.Chat.TypingTimeoutSeconds }},
	{path: "chat.typingText", ref: func(c *Config) any { return &c.Chat.TypingText }},
	{path: "chat.threadApology", ref: func(c *Config) any { return &c.Chat.ThreadApology }},
	{path: "chat.serializePerUser", ref: func(c *Config) any { return &c.Chat.SerializePerUser }},

	{path: "metrics.enabled", ref: func(c *Config) any { return &c.Metrics.Enabled }},
	{path: "metrics.host", ref: func(c *Config) any { return &c.Metrics.Host }},
	{path: "metrics.port", ref: func(c *Config) any { return &c.Metrics.Port }},
	{path: "metrics.endpoint", ref: func(c *Config) any { return &c.Metrics.Endpoint }},
}

func lookup(path string) (setting, error) {
	section, key, ok := strings.Cut(path, ".")
	if !ok || section == "" || key == "" || strings.Contains(key, ".") {
		return setting{}, fmt.Errorf("config path %q must be section.key", path)
	}
	known := false
	for _, s := range settings {
		if s.path == path {
			return s, nil
		}
		if strings.HasPrefix(s.path, section+".") {
			known = true
		}
	}
	if !known {
		return setting{}, fmt.Errorf("unknown config section %q", section)
	}
	return setting{}, fmt.Errorf("unknown key %q in section %q", key, section)
}

// GetByPath returns the value at a section.key path (e.g. "chat.transcriptLimit").
func GetByPath(cfg *Config, path string) (any, error) {
	s, err := lookup(path)
	if err != nil {
		return nil, err
	}
	switch p := s.ref(cfg).(type) {
	case *string:
		return *p, nil
	case *int:
		return *p, nil
	case *bool:
		return *p, nil
	default:
		return nil, fmt.Errorf("config path %q has unsupported type %T", path, p)
	}
}

// SetByPath parses value as the type of the key at path and stores it. String
// keys take value verbatim, so "true" stays a string there.
func SetByPath(cfg *Config, path, value string) error {
	s, err := lookup(path)
	if err != nil {
		return err
	}
	switch p := s.ref(cfg).(type) {
	case *string:
		*p = value
	case *int:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", path, value)
		}
		*p = n
	case *bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		*p = b
	default:
		return fmt.Errorf("config path %q has unsupported type %T", path, p)
	}
	return nil
}

// Sanitize returns a copy of the config with tokens masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	for _, s := range settings {
		if !s.secret {
			continue
		}
		if p, ok := s.ref(&masked).(*string); ok && *p != "" {
			*p = maskString(*p)
		}
	}
	return &masked
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Entry is one settable key and its current value.
type Entry struct {
	Path  string
	Value any
}

// ListPaths returns every settable key in section order.
func ListPaths(cfg *Config) []Entry {
	entries := make([]Entry, 0, len(settings))
	for _, s := range settings {
		v, err := GetByPath(cfg, s.path)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Path: s.path, Value: v})
	}
	return entries
}
