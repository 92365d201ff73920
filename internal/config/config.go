// Package config provides the configuration schema and loader for the
// muselive voice-session server.
package config

// LogLevel controls log verbosity for the muselive server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for muselive.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Provider    ProviderConfig    `yaml:"provider"`
	Session     SessionConfig     `yaml:"session"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

// ServerConfig holds network and logging settings for the muselive server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (metrics, health) listens
	// on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderConfig selects and configures the live voice backend.
type ProviderConfig struct {
	// Name selects the provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	// Leave empty to use the provider's built-in default.
	Model string `yaml:"model"`

	// Voice selects the prebuilt voice for synthesised speech (e.g., "Kore").
	Voice string `yaml:"voice"`
}

// SessionConfig holds behaviour settings applied to every live session.
type SessionConfig struct {
	// Instructions is the system prompt defining the assistant's persona.
	Instructions string `yaml:"instructions"`

	// InputTranscription requests transcription of the user's speech.
	InputTranscription bool `yaml:"input_transcription"`

	// OutputTranscription requests transcription of the model's speech.
	OutputTranscription bool `yaml:"output_transcription"`

	// FrameSize is the capture frame size in samples. 0 selects the default.
	FrameSize int `yaml:"frame_size"`
}

// TranscriptsConfig holds settings for transcript persistence.
type TranscriptsConfig struct {
	// Path is the SQLite database file for persisted transcripts.
	// When empty, transcripts are kept in memory only.
	Path string `yaml:"path"`
}
