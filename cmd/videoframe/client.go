package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	// Packages
	httpclient "github.com/michealrm/video-submission-frame/pkg/httpclient"
	probe "github.com/michealrm/video-submission-frame/pkg/probe"
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ClientCommands struct {
	Config   ConfigCommand   `cmd:"" name:"config" help:"Show upload limits and transfer mode." group:"CLIENT"`
	Upload   UploadCommand   `cmd:"" name:"upload" help:"Upload a video file." group:"CLIENT"`
	Session  SessionCommand  `cmd:"" name:"session" help:"Show an upload session." group:"CLIENT"`
	Progress ProgressCommand `cmd:"" name:"progress" help:"Follow the progress of an upload." group:"CLIENT"`
	Delete   DeleteCommand   `cmd:"" name:"delete" help:"Delete an uploaded file." group:"CLIENT"`
	Download DownloadCommand `cmd:"" name:"download" help:"Download an uploaded file." group:"CLIENT"`
	URL      URLCommand      `cmd:"" name:"url" help:"Get a download URL for an uploaded file." group:"CLIENT"`
}

type ConfigCommand struct{}

type UploadCommand struct {
	Path       string        `arg:"" type:"existingfile" help:"Video file"`
	Mode       string        `name:"mode" enum:",direct,proxied" default:"" help:"Force the transfer mode"`
	Liveness   time.Duration `name:"liveness" default:"10s" help:"Reconnect when no progress arrives for this long"`
	Reconnects uint64        `name:"reconnects" default:"3" help:"Progress stream reconnect attempts"`
	FFProbe    string        `name:"ffprobe" env:"FFPROBE" help:"Path to ffprobe"`
}

type SessionCommand struct {
	UploadID string `arg:"" name:"upload-id" help:"Upload identifier"`
}

type ProgressCommand struct {
	UploadID string `arg:"" name:"upload-id" help:"Upload identifier"`
}

type DeleteCommand struct {
	Key string `arg:"" help:"Object key"`
}

type DownloadCommand struct {
	Key    string `arg:"" help:"Object key"`
	Output string `name:"output" short:"o" help:"Output file (defaults to the key, - for stdout)"`
}

type URLCommand struct {
	Key string `arg:"" help:"Object key"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *ConfigCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	config, err := c.Config(ctx.ctx)
	if err != nil {
		return err
	}
	return prettyJSON(config)
}

func (cmd *UploadCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}

	tty := isTerminal(os.Stderr)
	name := filepath.Base(cmd.Path)
	opts := []httpclient.UploaderOpt{
		httpclient.WithLogger(ctx.logger),
		httpclient.WithLiveness(cmd.Liveness),
		httpclient.WithReconnect(cmd.Reconnects, httpclient.DefaultReconnectDelay),
		httpclient.WithProgress(func(evt schema.ProgressEvent) {
			if tty {
				fmt.Fprintf(os.Stderr, "\r\x1b[K  %-10s  %5d%%  \x1b[1m%s\x1b[0m", evt.Phase, evt.Percentage, name)
			} else if ctx.Debug {
				ctx.logger.Debug().Str("phase", string(evt.Phase)).Int("percentage", evt.Percentage).Msg(name)
			}
		}),
	}
	if cmd.Mode != "" {
		opts = append(opts, httpclient.WithMode(schema.Mode(cmd.Mode)))
	}
	if cmd.FFProbe != "" {
		prober, err := probe.New(probe.WithFFProbe(cmd.FFProbe))
		if err != nil {
			return err
		}
		opts = append(opts, httpclient.WithProber(prober))
	}
	uploader, err := c.NewUploader(opts...)
	if err != nil {
		return err
	}

	// An interrupt cancels the upload, and the partial upload is removed
	// before returning
	session, err := uploader.Upload(ctx.ctx, cmd.Path)
	uploader.Wait()
	if tty {
		fmt.Fprint(os.Stderr, "\r\x1b[K")
	}
	if err != nil {
		if uploader.State() == httpclient.UploadCanceled {
			return errors.New("upload canceled")
		}
		return err
	}

	if tty {
		fmt.Fprintf(os.Stderr, "  %-10s  %6s  \x1b[1m%s\x1b[0m\n", session.State, humanSize(session.BytesTotal), name)
	}
	return prettyJSON(session)
}

func (cmd *SessionCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	session, err := c.Session(ctx.ctx, cmd.UploadID)
	if err != nil {
		return err
	}
	return prettyJSON(session)
}

func (cmd *ProgressCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	return c.Progress(ctx.ctx, cmd.UploadID, func(evt schema.ProgressEvent) error {
		return enc.Encode(evt)
	})
}

func (cmd *DeleteCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	resp, err := c.DeleteUpload(ctx.ctx, cmd.Key)
	if err != nil {
		return err
	}
	return prettyJSON(resp)
}

func (cmd *DownloadCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}

	output := cmd.Output
	if output == "" {
		output = filepath.Base(cmd.Key)
	}
	var out io.Writer = os.Stdout
	var outFile *os.File
	if output != "-" {
		if outFile, err = os.Create(output); err != nil {
			return err
		}
		out = outFile
	}

	obj, err := c.Download(ctx.ctx, cmd.Key, out)
	if outFile != nil {
		outFile.Close()
		if err != nil {
			os.Remove(output)
		}
	}
	if err != nil {
		return err
	}
	if outFile != nil {
		if !obj.ModTime.IsZero() {
			_ = os.Chtimes(output, obj.ModTime, obj.ModTime)
		}
		fmt.Fprintf(os.Stderr, "  %6s  %s\n", humanSize(obj.ContentLength), output)
	}
	return nil
}

func (cmd *URLCommand) Run(ctx *Globals) error {
	c, err := ctx.Client()
	if err != nil {
		return err
	}
	resp, err := c.DownloadURL(ctx.ctx, cmd.Key)
	if err != nil {
		return err
	}
	fmt.Println(resp.URL)
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func prettyJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func humanSize(n int64) string {
	const (
		KB = int64(1024)
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= 1000*MB:
		return fmt.Sprintf("%.1fG", float64(n)/float64(GB))
	case n >= 1000*KB:
		return fmt.Sprintf("%.1fM", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.1fK", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
