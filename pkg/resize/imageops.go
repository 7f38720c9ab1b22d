// Package resize runs CPU-bound image transformations for the proxy.
//
// Transformations are executed by a bounded pool of subprocess workers (see
// Pool); the image operations themselves live here so the worker entry point
// and the tests share one implementation. All operations rewrite the file in
// place and report the new byte length.
package resize

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"github.com/pixelvault/pixelvault/pkg/transform"
)

// jpegQuality is used when re-encoding JPEG output.
const jpegQuality = 90

// Apply transforms the image file at path in place according to opts and
// returns the resulting byte length. The format is detected from the file's
// magic bytes; GIF, PNG, JPEG, and BMP are supported. When the requested
// transform turns out to be a no-op (single-frame still, or a resize that
// would only enlarge) the file is left untouched.
func Apply(path string, opts transform.Options) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading image: %w", err)
	}

	var out []byte
	switch detectFormat(data) {
	case "gif":
		out, err = applyGIF(data, opts)
	case "png", "jpeg", "bmp":
		out, err = applyStatic(data, detectFormat(data), opts)
	default:
		return 0, fmt.Errorf("unsupported image format")
	}
	if err != nil {
		return 0, err
	}

	if out == nil {
		// No pixel change; report the existing length.
		return int64(len(data)), nil
	}
	if err := writeInPlace(path, out); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

// detectFormat identifies the image container by magic bytes.
func detectFormat(data []byte) string {
	switch {
	case len(data) >= 4 && string(data[:4]) == "\x89PNG":
		return "png"
	case len(data) >= 4 && string(data[:4]) == "GIF8":
		return "gif"
	case len(data) >= 2 && string(data[:2]) == "BM":
		return "bmp"
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "jpeg"
	default:
		return ""
	}
}

// applyGIF handles still-frame extraction and resizing for GIFs. Any
// transform flattens the animation to its first frame; a multi-frame source
// with the still flag additionally gets the play overlay composited in.
// Returns nil when nothing changes.
func applyGIF(data []byte, opts transform.Options) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif has no frames")
	}

	multiFrame := len(g.Image) > 1
	needOverlay := opts.Still && multiFrame
	needResize := opts.HasResize() && shrinks(g.Image[0].Bounds(), opts)

	if !needOverlay && !needResize {
		return nil, nil
	}

	frame := frameToRGBA(g.Image[0])
	if needOverlay {
		drawPlayOverlay(frame)
	}

	var result image.Image = frame
	if needResize {
		result = shrinkToFit(frame, opts)
	}

	paletted := image.NewPaletted(result.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(paletted, result.Bounds(), result, image.Point{})

	var buf bytes.Buffer
	if err := gif.Encode(&buf, paletted, nil); err != nil {
		return nil, fmt.Errorf("encoding gif: %w", err)
	}
	return buf.Bytes(), nil
}

// applyStatic handles PNG, JPEG, and BMP. JPEG input is auto-oriented from
// its EXIF orientation tag before resizing. Returns nil when nothing changes.
func applyStatic(data []byte, format string, opts transform.Options) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}

	changed := false
	if format == "jpeg" {
		if o := jpegOrientation(data); o > 1 {
			img = orientImage(img, o)
			changed = true
		}
	}

	if opts.HasResize() && shrinks(img.Bounds(), opts) {
		img = shrinkToFit(img, opts)
		changed = true
	}

	// The still flag is a no-op on single-frame formats.
	if !changed {
		return nil, nil
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "bmp":
		err = bmp.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// shrinks reports whether fitting bounds into the requested box actually
// reduces the image. Matches the "only shrink" resize directive: an image
// already inside the box is never enlarged.
func shrinks(bounds image.Rectangle, opts transform.Options) bool {
	return scaleFactor(bounds, opts) < 1
}

// scaleFactor computes the proportional scale that fits bounds into the
// requested box. Unspecified dimensions are unconstrained.
func scaleFactor(bounds image.Rectangle, opts transform.Options) float64 {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	scale := math.Inf(1)
	if opts.Width > 0 {
		scale = math.Min(scale, float64(opts.Width)/w)
	}
	if opts.Height > 0 {
		scale = math.Min(scale, float64(opts.Height)/h)
	}
	return scale
}

// shrinkToFit scales img down proportionally to fit the requested box.
func shrinkToFit(img image.Image, opts transform.Options) image.Image {
	scale := scaleFactor(img.Bounds(), opts)
	if scale >= 1 {
		return img
	}

	tw := int(math.Round(float64(img.Bounds().Dx()) * scale))
	th := int(math.Round(float64(img.Bounds().Dy()) * scale))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// frameToRGBA copies a paletted GIF frame into an RGBA canvas anchored at
// the origin.
func frameToRGBA(frame *image.Paletted) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)
	return dst
}

// writeInPlace replaces the file at path atomically via temp file + rename.
func writeInPlace(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".resize-*")
	if err != nil {
		return fmt.Errorf("creating resize temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing resized image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing resized image: %w", err)
	}
	return nil
}
