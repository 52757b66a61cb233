package quality

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"strings"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Buckets holding less than this share of sampled pixels are noise, not a
// dominant colour.
const minColorShare = 0.01

// pixelFormats can be decoded and analysed pixel by pixel.
var pixelFormats = map[string]bool{"png": true, "jpeg": true, "gif": true}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(f, ".")))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// imageAnalysis is everything the criteria need from the decoded pixels.
type imageAnalysis struct {
	Format     string
	Width      int
	Height     int
	Brightness float64
	Contrast   float64
	Dominant   []models.Color
}

type colorBucket struct {
	key     int
	count   int
	r, g, b int
}

// analyzeImage decodes payload and samples at most maxSampled pixels on a
// regular grid, so results are deterministic for a given payload. The header
// is read first and images declaring more than maxDecoded pixels are refused
// without allocating a pixel buffer.
func analyzeImage(payload []byte, maxDecoded, maxSampled, dominant int) (*imageAnalysis, error) {
	hdr, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, errEmptyImage
	}
	if int64(hdr.Width)*int64(hdr.Height) > int64(maxDecoded) {
		return nil, fmt.Errorf("declared size %dx%d exceeds %d pixels", hdr.Width, hdr.Height, maxDecoded)
	}

	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errEmptyImage
	}

	step := 1
	if maxSampled > 0 && w*h > maxSampled {
		step = int(math.Ceil(math.Sqrt(float64(w*h) / float64(maxSampled))))
	}

	buckets := make(map[int]*colorBucket)
	var sum, sumSq float64
	n := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, b := int(r16>>8), int(g16>>8), int(b16>>8)

			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			sum += luma
			sumSq += luma * luma
			n++

			key := (r>>4)<<8 | (g>>4)<<4 | (b >> 4)
			bk := buckets[key]
			if bk == nil {
				bk = &colorBucket{key: key}
				buckets[key] = bk
			}
			bk.count++
			bk.r += r
			bk.g += g
			bk.b += b
		}
	}

	mean := sum / float64(n)
	variance := math.Max(0, sumSq/float64(n)-mean*mean)

	return &imageAnalysis{
		Format:     format,
		Width:      w,
		Height:     h,
		Brightness: mean,
		Contrast:   math.Sqrt(variance),
		Dominant:   dominantColors(buckets, n, dominant),
	}, nil
}

func dominantColors(buckets map[int]*colorBucket, total, limit int) []models.Color {
	list := make([]*colorBucket, 0, len(buckets))
	for _, b := range buckets {
		if float64(b.count)/float64(total) >= minColorShare {
			list = append(list, b)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].key < list[j].key
	})
	if len(list) > limit {
		list = list[:limit]
	}

	out := make([]models.Color, len(list))
	for i, b := range list {
		out[i] = models.Color{
			R: uint8(b.r / b.count),
			G: uint8(b.g / b.count),
			B: uint8(b.b / b.count),
		}
	}
	return out
}

func colorDistance(a, b models.Color) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
