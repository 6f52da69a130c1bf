package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Packages
	httpclient "github.com/michealrm/video-submission-frame/pkg/httpclient"
	version "github.com/michealrm/video-submission-frame/pkg/version"
	client "github.com/mutablelogic/go-client"
	zerolog "github.com/rs/zerolog"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	Endpoint string        `env:"ENDPOINT" default:"http://localhost:3000/embed" help:"Service endpoint"`
	Timeout  time.Duration `env:"TIMEOUT" default:"30s" help:"Request timeout for short calls"`
	Debug    bool          `help:"Enable debug output"`
	Trace    bool          `help:"Trace client requests"`

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func NewApp(app Globals) *Globals {
	// This context is cancelled when the process receives a SIGINT or SIGTERM
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Console output on a terminal, JSON lines otherwise
	level := zerolog.InfoLevel
	if app.Debug {
		level = zerolog.DebugLevel
	}
	if isTerminal(os.Stderr) {
		app.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		app.logger = zerolog.New(os.Stderr)
	}
	app.logger = app.logger.Level(level).With().Timestamp().Logger()

	return &app
}

func (app *Globals) Close() error {
	app.cancel()
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// METHODS

func (app *Globals) Context() context.Context {
	return app.ctx
}

// Client builds an HTTP client for the service endpoint
func (app *Globals) Client() (*httpclient.Client, error) {
	opts := []client.ClientOpt{
		client.OptUserAgent(version.UserAgent(execName())),
	}
	if app.Trace {
		opts = append(opts, client.OptTrace(os.Stderr, false))
	}
	if app.Timeout > 0 {
		opts = append(opts, client.OptTimeout(app.Timeout))
	}
	return httpclient.New(app.Endpoint, opts...)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
