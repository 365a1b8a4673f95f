// Copyright 2024-2026 Aiku AI

// Package watermark draws a text mark onto relayed photos.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	minFontSize = 15
	margin      = 15
	markAlpha   = 180
	jpegQuality = 95
)

type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	MiddleLeft   Position = "middle-left"
	Center       Position = "center"
	MiddleRight  Position = "middle-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

var positionAliases = map[string]Position{
	"sol-ust":  TopLeft,
	"orta-ust": TopCenter,
	"sag-ust":  TopRight,
	"sol-orta": MiddleLeft,
	"orta":     Center,
	"sag-orta": MiddleRight,
	"sol-alt":  BottomLeft,
	"orta-alt": BottomCenter,
	"sag-alt":  BottomRight,
}

// Positions lists the accepted anchor names.
var Positions = []Position{TopLeft, TopCenter, TopRight, MiddleLeft, Center, MiddleRight, BottomLeft, BottomCenter, BottomRight}

// ParsePosition normalizes an anchor name. Unknown names map to bottom-right
// and report false.
func ParsePosition(name string) (Position, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range Positions {
		if string(p) == name {
			return p, true
		}
	}
	if p, ok := positionAliases[name]; ok {
		return p, true
	}
	return BottomRight, false
}

var palette = map[string]color.NRGBA{
	"white": {R: 255, G: 255, B: 255, A: markAlpha},
	"black": {R: 0, G: 0, B: 0, A: markAlpha},
	"red":   {R: 255, G: 0, B: 0, A: markAlpha},
	"blue":  {R: 0, G: 100, B: 255, A: markAlpha},
	"green": {R: 0, G: 255, B: 100, A: markAlpha},
}

var colorAliases = map[string]string{
	"beyaz":   "white",
	"siyah":   "black",
	"kirmizi": "red",
	"mavi":    "blue",
	"yesil":   "green",
}

// Colors lists the accepted color names.
var Colors = []string{"white", "black", "red", "blue", "green"}

// ParseColor resolves a palette name. Unknown names map to white and report
// false.
func ParseColor(name string) (color.NRGBA, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := colorAliases[name]; ok {
		name = alias
	}
	c, ok := palette[name]
	if !ok {
		return palette["white"], false
	}
	return c, true
}

// Stamper implements relay.Stamper.
type Stamper struct {
	log      zerolog.Logger
	loadFont func() (*opentype.Font, error)
}

var _ relay.Stamper = (*Stamper)(nil)

var goBold = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

// New creates a Stamper using the Go Bold font.
func New(log zerolog.Logger) *Stamper {
	return &Stamper{
		log:      log.With().Str("component", "watermark").Logger(),
		loadFont: goBold,
	}
}

// Stamp returns img with opts.Text drawn on it, encoded as JPEG. It never
// fails: undecodable input is returned unchanged and a font failure yields
// the re-encoded image without a mark.
func (s *Stamper) Stamp(img []byte, opts relay.WatermarkOptions) []byte {
	if !opts.Enabled || strings.TrimSpace(opts.Text) == "" {
		return img
	}
	src, format, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to decode image, sending without watermark")
		return img
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)
	if err = s.drawText(canvas, opts); err != nil {
		s.log.Warn().Err(err).Msg("Failed to draw watermark, sending re-encoded image")
	}

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		s.log.Warn().Err(err).Str("format", format).Msg("Failed to encode watermarked image")
		return img
	}
	return buf.Bytes()
}

func (s *Stamper) drawText(dst *image.RGBA, opts relay.WatermarkOptions) error {
	f, err := s.loadFont()
	if err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}
	bounds := dst.Bounds()
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(max(minFontSize, bounds.Dy()/25)),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("failed to create font face: %w", err)
	}
	defer face.Close()

	text := strings.TrimSpace(opts.Text)
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	position, _ := ParsePosition(opts.Position)
	origin := Place(bounds, image.Pt(width, height), position)

	fill, _ := ParseColor(opts.Color)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fill),
		Face: face,
		Dot:  fixed.P(origin.X, origin.Y+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
	return nil
}

// Place returns the top-left corner of a box of the given size anchored at
// position inside bounds, keeping the margin from the edges.
func Place(bounds image.Rectangle, size image.Point, position Position) image.Point {
	left := bounds.Min.X + margin
	right := bounds.Max.X - size.X - margin
	hcenter := bounds.Min.X + (bounds.Dx()-size.X)/2
	top := bounds.Min.Y + margin
	bottom := bounds.Max.Y - size.Y - margin
	vcenter := bounds.Min.Y + (bounds.Dy()-size.Y)/2

	switch position {
	case TopLeft:
		return image.Pt(left, top)
	case TopCenter:
		return image.Pt(hcenter, top)
	case TopRight:
		return image.Pt(right, top)
	case MiddleLeft:
		return image.Pt(left, vcenter)
	case Center:
		return image.Pt(hcenter, vcenter)
	case MiddleRight:
		return image.Pt(right, vcenter)
	case BottomLeft:
		return image.Pt(left, bottom)
	case BottomCenter:
		return image.Pt(hcenter, bottom)
	default:
		return image.Pt(right, bottom)
	}
}
