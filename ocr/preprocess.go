package ocr

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
)

// Options drives Preprocess. Build it with OptionsFromConfig.
type Options struct {
	// TargetDPI is the resolution the OCR engine wants.
	TargetDPI int
	// SourceDPI is the resolution the image was produced at. 0 means
	// unknown: no DPI scaling, only the MaxDimension clamp.
	SourceDPI    int
	MinDPI       int
	MaxDPI       int
	AutoAdjust   bool
	MaxDimension int

	ContrastEnhance bool
	Denoise         bool
	Deskew          bool
	// Binarization is "otsu", "fixed" or "none".
	Binarization string
	Invert       bool
}

// Info reports what Preprocess did.
type Info struct {
	Format         string  `json:"format"`
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Scale          float64 `json:"scale"`
	SkewDegrees    float64 `json:"skew_degrees"`
	Threshold      int     `json:"threshold,omitempty"`
}

// OptionsFromConfig merges OCR preprocessing and image extraction settings.
// Both configs must have defaults applied; nil configs give the defaults.
func OptionsFromConfig(pp *config.ImagePreprocessingConfig, img *config.ImageExtractionConfig) Options {
	o := Options{
		TargetDPI:    config.DefaultTargetDPI,
		MinDPI:       config.DefaultMinDPI,
		MaxDPI:       config.DefaultMaxDPI,
		MaxDimension: config.DefaultMaxImageDimension,
		Binarization: "otsu",
	}
	if img != nil {
		o.AutoAdjust = img.AutoAdjust()
		if img.MaxImageDimension > 0 {
			o.MaxDimension = img.MaxImageDimension
		}
		if img.MinDPI > 0 {
			o.MinDPI = img.MinDPI
		}
		if img.MaxDPI > 0 {
			o.MaxDPI = img.MaxDPI
		}
		if img.TargetDPI > 0 {
			o.TargetDPI = img.TargetDPI
		}
	}
	if pp != nil {
		if pp.TargetDPI > 0 {
			o.TargetDPI = pp.TargetDPI
		}
		o.ContrastEnhance = pp.ContrastEnhance
		o.Denoise = pp.Denoise
		o.Deskew = pp.Deskew
		o.Invert = pp.InvertColors
		if pp.BinarizationMethod != "" {
			o.Binarization = strings.ToLower(pp.BinarizationMethod)
		}
	}
	return o
}

// Preprocess decodes an image, cleans it up for OCR and re-encodes it as
// grayscale PNG.
//
// Steps, in order: DPI scaling (CatmullRom), clamp to MaxDimension,
// grayscale, contrast stretch, 3x3 median denoise, projection-profile
// deskew, binarization, inversion.
func Preprocess(data []byte, opts Options) ([]byte, Info, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, docerr.Wrap(docerr.KindParsing, err, "ocr: decode image")
	}
	b := src.Bounds()
	info := Info{Format: format, OriginalWidth: b.Dx(), OriginalHeight: b.Dy(), Scale: 1}
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, info, docerr.Validation("ocr: empty image")
	}

	info.Scale = scaleFactor(b.Dx(), b.Dy(), opts)
	gray := toGray(src, info.Scale)

	if opts.ContrastEnhance {
		stretch(gray)
	}
	if opts.Denoise {
		gray = median3(gray)
	}
	if opts.Deskew {
		info.SkewDegrees = estimateSkew(gray)
		if math.Abs(info.SkewDegrees) >= 0.5 {
			gray = rotate(gray, -info.SkewDegrees)
		}
	}
	switch opts.Binarization {
	case "otsu":
		info.Threshold = otsu(gray)
		binarize(gray, uint8(info.Threshold))
	case "fixed":
		info.Threshold = 128
		binarize(gray, 128)
	case "", "none":
	default:
		return nil, info, docerr.Validation("ocr: unknown binarization method %q", opts.Binarization)
	}
	if opts.Invert {
		for i, p := range gray.Pix {
			gray.Pix[i] = 255 - p
		}
	}

	info.Width, info.Height = gray.Rect.Dx(), gray.Rect.Dy()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, info, docerr.Wrap(docerr.KindInternal, err, "ocr: encode png")
	}
	return buf.Bytes(), info, nil
}

// scaleFactor maps SourceDPI to TargetDPI, then shrinks the result so the
// longest side fits MaxDimension.
func scaleFactor(w, h int, o Options) float64 {
	scale := 1.0
	if o.SourceDPI > 0 && o.TargetDPI > 0 {
		target := o.TargetDPI
		if o.AutoAdjust {
			if o.MinDPI > 0 && target < o.MinDPI {
				target = o.MinDPI
			}
			if o.MaxDPI > 0 && target > o.MaxDPI {
				target = o.MaxDPI
			}
		}
		scale = float64(target) / float64(o.SourceDPI)
	}
	if o.MaxDimension > 0 {
		longest := float64(max(w, h)) * scale
		if longest > float64(o.MaxDimension) {
			scale = float64(o.MaxDimension) / float64(max(w, h))
		}
	}
	return scale
}

func toGray(src image.Image, scale float64) *image.Gray {
	b := src.Bounds()
	if scale != 1 {
		w := max(1, int(math.Round(float64(b.Dx())*scale)))
		h := max(1, int(math.Round(float64(b.Dy())*scale)))
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		src, b = dst, dst.Bounds()
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray
}

// stretch maps the 1st..99th percentile range linearly onto 0..255.
func stretch(g *image.Gray) {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	n := len(g.Pix)
	lo, hi := percentile(hist, n, 0.01), percentile(hist, n, 0.99)
	if hi <= lo {
		return
	}
	span := float64(hi - lo)
	for i, p := range g.Pix {
		v := (float64(p) - float64(lo)) * 255 / span
		g.Pix[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
}

func percentile(hist [256]int, n int, q float64) int {
	target := int(float64(n) * q)
	acc := 0
	for v, c := range hist {
		acc += c
		if acc > target {
			return v
		}
	}
	return 255
}

func median3(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx := min(max(x+dx, 0), w-1)
					yy := min(max(y+dy, 0), h-1)
					win[k] = g.Pix[yy*g.Stride+xx]
					k++
				}
			}
			s := win[:]
			sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
			out.Pix[y*out.Stride+x] = s[4]
		}
	}
	return out
}

// otsu returns the threshold maximizing between-class variance.
func otsu(g *image.Gray) int {
	var hist [256]float64
	for _, p := range g.Pix {
		hist[p]++
	}
	total := float64(len(g.Pix))
	var sum float64
	for v, c := range hist {
		sum += float64(v) * c
	}
	var sumB, wB, best float64
	threshold := 128
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best, threshold = between, t
		}
	}
	return threshold
}

// binarize sets pixels <= t to black and the rest to white.
func binarize(g *image.Gray, t uint8) {
	for i, p := range g.Pix {
		if p <= t {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = 255
		}
	}
}

const (
	skewRange = 5.0
	skewStep  = 0.5
	skewProbe = 600
)

// estimateSkew returns the text angle in degrees: the rotation whose
// horizontal projection profile of dark pixels has the highest variance.
// It works on a downscaled copy.
func estimateSkew(g *image.Gray) float64 {
	probe := g
	if longest := max(g.Rect.Dx(), g.Rect.Dy()); longest > skewProbe {
		probe = toGray(g, float64(skewProbe)/float64(longest))
	}
	t := uint8(otsu(probe))
	best, bestScore := 0.0, -1.0
	for a := -skewRange; a <= skewRange+1e-9; a += skewStep {
		if s := profileScore(probe, a, t); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best
}

func profileScore(g *image.Gray, deg float64, t uint8) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w)/2, float64(h)/2
	rows := make([]float64, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.Pix[y*g.Stride+x] > t {
				continue
			}
			ry := int(-(float64(x)-cx)*sin + (float64(y)-cy)*cos + cy)
			if ry >= 0 && ry < h {
				rows[ry]++
			}
		}
	}
	var mean float64
	for _, r := range rows {
		mean += r
	}
	mean /= float64(h)
	var v float64
	for _, r := range rows {
		v += (r - mean) * (r - mean)
	}
	return v / float64(h)
}

// rotate turns g by deg degrees around its center, filling with white.
func rotate(g *image.Gray, deg float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := int(math.Round(dx*cos + dy*sin + cx))
			sy := int(math.Round(-dx*sin + dy*cos + cy))
			c := color.Gray{Y: 255}
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				c.Y = g.Pix[sy*g.Stride+sx]
			}
			out.Pix[y*out.Stride+x] = c.Y
		}
	}
	return out
}
