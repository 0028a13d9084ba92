package track

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/s2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/flight-control/fcc/internal/recorder"
)

// ErrEmptyTrack is returned when there is nothing to draw.
var ErrEmptyTrack = errors.New("track has no positions")

const (
	dpi            = 72.0
	defaultWidth   = 800
	defaultHeight  = 600
	defaultFont    = 13.0
	defaultMargin  = 30
	defaultInfoBar = 70
	lineSpacing    = 1.3
	markerRadius   = 4

	earthRadiusMeters = 6371008.8
)

// Options controls the output image. Zero fields take defaults.
type Options struct {
	Width    int
	Height   int
	FontSize float64
	Title    string
	Location *time.Location
}

func (o *Options) setDefaults() {
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	if o.FontSize == 0 {
		o.FontSize = defaultFont
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

// Summary holds the figures printed under the track.
type Summary struct {
	Points      int
	Distance    float64 // meters along the track
	MaxAltitude float64
	Start, End  time.Time
}

// Duration is the time between the first and last position.
func (s Summary) Duration() time.Duration { return s.End.Sub(s.Start) }

// Summarize measures the track. Distances are great-circle.
func Summarize(points []recorder.TrackPoint) Summary {
	var s Summary
	if len(points) == 0 {
		return s
	}
	s.Points = len(points)
	s.Start, s.End = points[0].Time, points[len(points)-1].Time
	s.MaxAltitude = points[0].Position.Z
	prev := latLng(points[0])
	for _, p := range points[1:] {
		ll := latLng(p)
		s.Distance += prev.Distance(ll).Radians() * earthRadiusMeters
		prev = ll
		s.MaxAltitude = math.Max(s.MaxAltitude, p.Position.Z)
	}
	return s
}

func latLng(p recorder.TrackPoint) s2.LatLng {
	return s2.LatLngFromDegrees(p.Position.X, p.Position.Y)
}

// Render draws the track.
func Render(points []recorder.TrackPoint, opts Options) (*image.RGBA, error) {
	if len(points) == 0 {
		return nil, ErrEmptyTrack
	}
	opts.setDefaults()

	if opts.Width <= 2*defaultMargin || opts.Height <= defaultMargin+defaultInfoBar {
		return nil, fmt.Errorf("image %dx%d too small", opts.Width, opts.Height)
	}
	area := image.Rect(defaultMargin, defaultMargin, opts.Width-defaultMargin, opts.Height-defaultInfoBar)

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	p := newProjection(points, area)
	minAlt, maxAlt := altitudeRange(points)

	strokeRect(img, area, color.Gray{Y: 200})
	for i := 1; i < len(points); i++ {
		c := altitudeColor(points[i].Position.Z, minAlt, maxAlt)
		drawLine(img, p.point(points[i-1]), p.point(points[i]), c)
	}
	fillCircle(img, p.point(points[0]), markerRadius, color.RGBA{G: 160, A: 255})
	fillCircle(img, p.point(points[len(points)-1]), markerRadius, color.RGBA{R: 200, A: 255})

	ann, err := newAnnotator(opts)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err := ann.annotate(img, Summarize(points), minAlt); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

// Encode renders the track and writes it to w as PNG.
func Encode(w io.Writer, points []recorder.TrackPoint, opts Options) error {
	img, err := Render(points, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// projection maps track coordinates into the drawing area, keeping the
// aspect ratio and centring the track.
type projection struct {
	minX, minY float64
	scale      float64
	offX, offY int
	area       image.Rectangle
}

func newProjection(points []recorder.TrackPoint, area image.Rectangle) projection {
	minX, maxX := points[0].Position.X, points[0].Position.X
	minY, maxY := points[0].Position.Y, points[0].Position.Y
	for _, p := range points[1:] {
		minX, maxX = math.Min(minX, p.Position.X), math.Max(maxX, p.Position.X)
		minY, maxY = math.Min(minY, p.Position.Y), math.Max(maxY, p.Position.Y)
	}

	// Longitude (y) runs left to right, latitude (x) bottom to top.
	spanH, spanV := maxY-minY, maxX-minX
	scale := math.Inf(1)
	if spanH > 0 {
		scale = float64(area.Dx()-1) / spanH
	}
	if spanV > 0 {
		scale = math.Min(scale, float64(area.Dy()-1)/spanV)
	}
	if math.IsInf(scale, 1) {
		scale = 0
	}

	return projection{
		minX:  minX,
		minY:  minY,
		scale: scale,
		offX:  (area.Dx() - 1 - int(spanH*scale)) / 2,
		offY:  (area.Dy() - 1 - int(spanV*scale)) / 2,
		area:  area,
	}
}

func (p projection) point(tp recorder.TrackPoint) image.Point {
	x := p.area.Min.X + p.offX + int(math.Round((tp.Position.Y-p.minY)*p.scale))
	y := p.area.Max.Y - 1 - p.offY - int(math.Round((tp.Position.X-p.minX)*p.scale))
	return image.Pt(x, y)
}

func altitudeRange(points []recorder.TrackPoint) (lo, hi float64) {
	lo, hi = points[0].Position.Z, points[0].Position.Z
	for _, p := range points[1:] {
		lo, hi = math.Min(lo, p.Position.Z), math.Max(hi, p.Position.Z)
	}
	return lo, hi
}

func altitudeColor(alt, lo, hi float64) color.RGBA {
	t := 0.0
	if hi > lo {
		t = (alt - lo) / (hi - lo)
	}
	return color.RGBA{R: uint8(255 * t), B: uint8(255 * (1 - t)), A: 255}
}

func drawLine(img draw.Image, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := sign(b.X-a.X), sign(b.Y-a.Y)
	e := dx + dy
	for {
		img.Set(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func fillCircle(img draw.Image, center image.Point, r int, c color.Color) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.Set(center.X+x, center.Y+y, c)
			}
		}
	}
}

func strokeRect(img draw.Image, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

type annotator struct {
	context *freetype.Context
	face    font.Face
	opts    Options
}

func newAnnotator(opts Options) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(opts.FontSize)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		opts:    opts,
		face: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    opts.FontSize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}, nil
}

func (a *annotator) Close() error {
	return a.face.Close()
}

func (a *annotator) annotate(img *image.RGBA, s Summary, minAlt float64) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	metrics := a.face.Metrics()
	ascent := metrics.Ascent.Round()

	if a.opts.Title != "" {
		width := font.MeasureString(a.face, a.opts.Title).Round()
		pt := freetype.Pt((img.Bounds().Dx()-width)/2, (defaultMargin+ascent)/2)
		if _, err := a.context.DrawString(a.opts.Title, pt); err != nil {
			return fmt.Errorf("drawing title: %w", err)
		}
	}

	lines := []string{
		fmt.Sprintf("Distance: %s   Altitude: %s to %s   Points: %s",
			humanize.SIWithDigits(s.Distance, 1, "m"),
			humanize.SIWithDigits(minAlt, 1, "m"),
			humanize.SIWithDigits(s.MaxAltitude, 1, "m"),
			humanize.Comma(int64(s.Points))),
		fmt.Sprintf("Time: %s - %s (%s)",
			s.Start.In(a.opts.Location).Format(time.DateTime),
			s.End.In(a.opts.Location).Format("15:04:05"),
			s.Duration().Round(time.Second)),
	}

	pt := freetype.Pt(defaultMargin, img.Bounds().Dy()-defaultInfoBar+defaultMargin/2+ascent)
	for _, l := range lines {
		if _, err := a.context.DrawString(l, pt); err != nil {
			return fmt.Errorf("drawing info: %w", err)
		}
		pt.Y += a.context.PointToFixed(a.opts.FontSize * lineSpacing)
	}
	return nil
}
