package config

type Config struct {
	DataDir       string
	HTTPAddr      string
	StreamBaseURL string // base URL players use to reach the stream server
	LogLevel      string // debug/info/warn/error
}
