// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// File is a media payload ready to be sent.
type File struct {
	Kind     MessageKind
	Name     string
	MimeType string
	Data     []byte
}

// Messenger sends content to one destination channel.
type Messenger interface {
	SendText(ctx context.Context, channel, text string) error
	SendFile(ctx context.Context, channel string, file *File, caption string) error
}

// Stamper applies a watermark to image bytes. It must return the input
// unchanged when it cannot stamp.
type Stamper interface {
	Stamp(image []byte, opts WatermarkOptions) []byte
}

// Content is a finalized post: caption plus optional media.
type Content struct {
	Caption    string
	Image      []byte
	Attachment *Attachment
}

const defaultDispatchConcurrency = 4

// Dispatcher fans content out to destination channels.
type Dispatcher struct {
	messenger   Messenger
	stamper     Stamper
	concurrency int
	log         zerolog.Logger
}

// NewDispatcher creates a Dispatcher. stamper may be nil.
func NewDispatcher(messenger Messenger, stamper Stamper, concurrency int, log zerolog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	return &Dispatcher{
		messenger:   messenger,
		stamper:     stamper,
		concurrency: concurrency,
		log:         log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch sends content to every destination. A failure on one destination
// never affects the others. Media is prepared once before the fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, content Content, destinations []string, wm WatermarkOptions) DispatchReport {
	report := DispatchReport{
		Results: make([]DestinationResult, len(destinations)),
		Total:   len(destinations),
	}
	if len(destinations) == 0 {
		return report
	}

	file, err := d.prepareFile(ctx, content, wm)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to prepare media, nothing sent")
		for i, dest := range destinations {
			report.Results[i] = DestinationResult{Channel: dest, Err: err}
			dispatchTotal.WithLabelValues("failed").Inc()
		}
		return report
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, dest := range destinations {
		g.Go(func() error {
			report.Results[i] = d.sendOne(ctx, dest, content.Caption, file)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		if res.OK {
			report.Succeeded++
		}
	}
	d.log.Info().
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Msg("Dispatch finished")
	return report
}

func (d *Dispatcher) prepareFile(ctx context.Context, content Content, wm WatermarkOptions) (*File, error) {
	switch {
	case len(content.Image) > 0:
		data := content.Image
		if d.stamper != nil {
			data = d.stamper.Stamp(data, wm)
		}
		return photoFile(data), nil
	case content.Attachment != nil:
		att := content.Attachment
		if att.Download == nil {
			return nil, fmt.Errorf("attachment %q has no source", att.Name)
		}
		data, err := att.Download(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to download attachment %q: %w", att.Name, err)
		}
		return &File{Kind: att.Kind, Name: att.Name, MimeType: att.MimeType, Data: data}, nil
	default:
		return nil, nil
	}
}

// photoFile names the image after its sniffed format, since the stamper only
// re-encodes to JPEG when it actually draws a mark.
func photoFile(data []byte) *File {
	mimeType := http.DetectContentType(data)
	var ext string
	switch mimeType {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	default:
		mimeType, ext = "image/jpeg", ".jpg"
	}
	return &File{Kind: KindPhoto, Name: "image" + ext, MimeType: mimeType, Data: data}
}

func (d *Dispatcher) sendOne(ctx context.Context, dest, caption string, file *File) (res DestinationResult) {
	res.Channel = dest
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Str("destination", dest).
				Any("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Panic while sending to destination")
			res.OK = false
			res.Err = fmt.Errorf("panic while sending: %v", p)
			dispatchTotal.WithLabelValues("failed").Inc()
		}
	}()

	var err error
	if file != nil {
		err = d.messenger.SendFile(ctx, dest, file, caption)
	} else {
		err = d.messenger.SendText(ctx, dest, caption)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("destination", dest).Msg("Failed to send to destination")
		dispatchTotal.WithLabelValues("failed").Inc()
		res.Err = err
		return res
	}
	d.log.Debug().Str("destination", dest).Msg("Sent to destination")
	dispatchTotal.WithLabelValues("ok").Inc()
	res.OK = true
	return res
}
