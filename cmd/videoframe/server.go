package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	// Packages
	httphandler "github.com/michealrm/video-submission-frame/pkg/httphandler"
	manager "github.com/michealrm/video-submission-frame/pkg/manager"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	progress "github.com/michealrm/video-submission-frame/pkg/progress"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	storage "github.com/michealrm/video-submission-frame/pkg/storage"
	version "github.com/michealrm/video-submission-frame/pkg/version"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
	otel "go.opentelemetry.io/otel"
	errgroup "golang.org/x/sync/errgroup"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ServerCommands struct {
	Server RunServerCommand `cmd:"" name:"server" help:"Run HTTP server." group:"SERVER"`
}

type RunServerCommand struct {
	Listen string `env:"LISTEN" default:":3000" help:"Listen address"`
	Prefix string `env:"HTTP_PREFIX" default:"/embed" help:"Path prefix for the API"`

	// Storage
	Storage   string `env:"STORAGE_URL" help:"Storage URL (s3://bucket, file://name/path, mem://name), defaults to ./uploads"`
	Endpoint  string `name:"s3-endpoint" env:"STORAGE_ENDPOINT" help:"S3-compatible endpoint URL"`
	Region    string `env:"STORAGE_REGION" default:"us-east-1" help:"S3 region"`
	AccessKey string `name:"access-key" env:"AWS_ACCESS_KEY_ID" help:"S3 access key"`
	SecretKey string `name:"secret-key" env:"AWS_SECRET_ACCESS_KEY" help:"S3 secret key"`
	PublicURL string `name:"public-url" env:"STORAGE_PUBLIC_URL" help:"Base URL for stored files"`

	// Uploads
	AllowedTypes  []string      `name:"allowed-types" env:"STORAGE_ALLOWED_TYPES" default:"video/mp4,video/quicktime,video/webm" help:"Accepted MIME types"`
	MaxFileSize   int64         `name:"max-file-size" env:"STORAGE_MAX_FILE_SIZE" default:"104857600" help:"Maximum upload size in bytes"`
	MaxDuration   time.Duration `name:"max-duration" env:"STORAGE_MAX_DURATION" default:"180s" help:"Maximum video duration (0 disables the check)"`
	PresignExpiry time.Duration `name:"presign-expiry" env:"STORAGE_PRESIGN_EXPIRY" default:"1h" help:"Validity of presigned URLs"`
	Mode          string        `name:"mode" env:"UPLOAD_MODE" enum:",direct,proxied" default:"" help:"Force the transfer mode"`
	Retention     time.Duration `name:"retention" env:"SESSION_RETENTION" default:"15m" help:"How long finished sessions are kept"`
	Staging       string        `name:"staging" env:"STAGING_DIR" help:"Directory for staged uploads"`
	FFProbe       string        `name:"ffprobe" env:"FFPROBE" help:"Path to ffprobe"`

	// Transport
	Origins   []string `name:"origins" env:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8080,https://form.jotform.com,https://www.jotform.com" help:"Allowed CORS origins"`
	Redis     string   `name:"redis" env:"REDIS_URL" help:"Redis URL for the progress bus"`
	RateLimit float64  `name:"rate-limit" env:"RATE_LIMIT" default:"20" help:"Requests per second per client (0 disables)"`
	Burst     int      `name:"burst" env:"RATE_BURST" default:"40" help:"Request burst per client"`
	Proxies   []string `name:"trusted-proxies" env:"TRUSTED_PROXIES" help:"Reverse proxy addresses or CIDR ranges whose forwarding headers identify clients"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunServerCommand) Run(ctx *Globals) error {
	name := execName()

	// Storage backend
	storageOpts := []storage.Opt{storage.WithTracer(otel.Tracer(name))}
	if cmd.Endpoint != "" {
		storageOpts = append(storageOpts, storage.WithEndpoint(cmd.Endpoint))
	}
	if cmd.Region != "" {
		storageOpts = append(storageOpts, storage.WithRegion(cmd.Region))
	}
	if cmd.AccessKey != "" || cmd.SecretKey != "" {
		storageOpts = append(storageOpts, storage.WithCredentials(cmd.AccessKey, cmd.SecretKey))
	}
	if cmd.PublicURL != "" {
		storageOpts = append(storageOpts, storage.WithPublicURL(cmd.PublicURL))
	}

	// Local storage under the working directory by default
	storageURL := cmd.Storage
	if storageURL == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		storageURL = "file://uploads" + filepath.ToSlash(filepath.Join(wd, "uploads"))
	}

	// Manager options
	opts := []manager.Opt{
		manager.WithLogger(ctx.logger),
		manager.WithTracer(otel.Tracer(name)),
		manager.WithMeter(otel.Meter(name)),
		manager.WithStorageURL(ctx.ctx, storageURL, storageOpts...),
		manager.WithAllowedTypes(cmd.AllowedTypes...),
		manager.WithMaxFileSize(cmd.MaxFileSize),
		manager.WithMaxDuration(cmd.MaxDuration),
		manager.WithPresignExpiry(cmd.PresignExpiry),
		manager.WithRetention(cmd.Retention),
	}
	if cmd.Mode != "" {
		opts = append(opts, manager.WithMode(schema.Mode(cmd.Mode)))
	}
	if cmd.Staging != "" {
		opts = append(opts, manager.WithStagingDir(cmd.Staging))
	}
	if cmd.FFProbe != "" {
		prober, err := probe.New(probe.WithFFProbe(cmd.FFProbe))
		if err != nil {
			return err
		}
		opts = append(opts, manager.WithProber(prober))
	}
	var bus progress.Bus
	if cmd.Redis != "" {
		redis, err := progress.NewRedis(ctx.ctx, cmd.Redis, ctx.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		bus = redis
		opts = append(opts, manager.WithBus(bus))
	}

	mgr, err := manager.New(ctx.ctx, opts...)
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer mgr.Close()

	return cmd.serve(ctx, mgr)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// serve registers HTTP handlers and runs the server and the session pruner
// until the context is done.
func (cmd *RunServerCommand) serve(ctx *Globals, mgr *manager.Manager) error {
	// Build middleware
	middleware := httphandler.HTTPMiddlewareFuncs{
		httphandler.Logger(ctx.logger),
		httphandler.CORS(cmd.Origins...),
	}
	if cmd.RateLimit > 0 {
		limiter := httphandler.NewRateLimiter(cmd.RateLimit, cmd.Burst)
		if err := limiter.TrustProxies(cmd.Proxies...); err != nil {
			return fmt.Errorf("invalid trusted proxy: %w", err)
		}
		middleware = append(middleware, limiter.Middleware())
	}

	// Create the router and register handlers
	router := httphandler.NewServeMux(cmd.Prefix, middleware...)
	if err := httphandler.RegisterHandlers(mgr, router); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	// Create the HTTP server
	srv, err := httpserver.New(cmd.Listen, http.Handler(router), nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx.logger.Info().
		Str("version", version.Version()).
		Str("listen", cmd.Listen).
		Str("prefix", cmd.Prefix).
		Str("mode", string(mgr.Mode())).
		Msg("started")

	group, gctx := errgroup.WithContext(ctx.ctx)
	group.Go(func() error {
		return mgr.Run(gctx)
	})
	group.Go(func() error {
		return srv.Run(gctx)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ctx.logger.Info().Msg("stopped")
	return nil
}
