package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	version   string
	logWriter io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported by the MCP server, the TUI and /healthz.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithLogWriter overrides where logs go. Interactive commands default to
// app.log_file; servers default to stdout.
func WithLogWriter(w io.Writer) Option {
	return func(a *application) {
		a.logWriter = w
	}
}
