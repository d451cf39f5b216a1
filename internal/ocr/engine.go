package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/idverify/internal/observability"
)

// Line is one recognized text region. X and Y are the region center in
// original image coordinates, used downstream to order lines the way a
// human reads the card.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

const (
	detSize   = 960
	recHeight = 48
	recWidth  = 320

	probThreshold = 0.3
	minRegionArea = 30
	confThreshold = 0.5
)

// Engine runs the two-stage text pipeline: a DB-style detector that
// emits a per-pixel text probability map, and a CRNN recognizer with
// CTC-decoded output. Sessions hold fixed-shape tensors, so calls are
// serialized with a mutex.
type Engine struct {
	mu sync.Mutex

	detSession *ort.AdvancedSession
	detInput   *ort.Tensor[float32]
	detOutput  *ort.Tensor[float32]

	recSession *ort.AdvancedSession
	recInput   *ort.Tensor[float32]
	recOutput  *ort.Tensor[float32]
	recSteps   int

	charset []rune
}

// NewEngine loads detector and recognizer weights plus the recognizer
// charset from dir. The charset file holds one character per line;
// CTC blank is index zero and is not listed in the file.
func NewEngine(dir string) (*Engine, error) {
	charset, err := loadCharset(filepath.Join(dir, "ocr_keys.txt"))
	if err != nil {
		return nil, err
	}

	e := &Engine{charset: charset}

	e.detInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detSize, detSize))
	if err != nil {
		return nil, fmt.Errorf("ocr detector input tensor: %w", err)
	}
	e.detOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, detSize, detSize))
	if err != nil {
		return nil, fmt.Errorf("ocr detector output tensor: %w", err)
	}
	e.detSession, err = ort.NewAdvancedSession(
		filepath.Join(dir, "ocr_det.onnx"),
		[]string{"x"},
		[]string{"sigmoid_0.tmp_0"},
		[]ort.Value{e.detInput},
		[]ort.Value{e.detOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("load ocr detector: %w", err)
	}

	// One output step per 8 horizontal pixels, blank plus charset classes.
	e.recSteps = recWidth / 8
	classes := len(charset) + 1

	e.recInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, recHeight, recWidth))
	if err != nil {
		return nil, fmt.Errorf("ocr recognizer input tensor: %w", err)
	}
	e.recOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.recSteps), int64(classes)))
	if err != nil {
		return nil, fmt.Errorf("ocr recognizer output tensor: %w", err)
	}
	e.recSession, err = ort.NewAdvancedSession(
		filepath.Join(dir, "ocr_rec.onnx"),
		[]string{"x"},
		[]string{"softmax_0.tmp_0"},
		[]ort.Value{e.recInput},
		[]ort.Value{e.recOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("load ocr recognizer: %w", err)
	}

	return e, nil
}

// Extract recognizes text lines in img, keeping regions whose decoded
// confidence clears the cutoff, ordered top to bottom then left to
// right. An empty slice means no readable text, not an error.
func (e *Engine) Extract(ctx context.Context, img image.Image) ([]Line, error) {
	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("ocr").Observe(time.Since(start).Seconds())
	}()

	boxes, err := e.detect(img)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(boxes))
	for _, box := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		region := cropBox(img, box)
		if region == nil {
			continue
		}
		text, conf, err := e.recognize(region)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" || conf <= confThreshold {
			continue
		}
		lines = append(lines, Line{
			Text:       text,
			Confidence: conf,
			X:          float64(box.Min.X+box.Max.X) / 2,
			Y:          float64(box.Min.Y+box.Max.Y) / 2,
		})
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Y != lines[j].Y {
			return lines[i].Y < lines[j].Y
		}
		return lines[i].X < lines[j].X
	})
	return lines, nil
}

func (e *Engine) detect(img image.Image) ([]image.Rectangle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resized := resizeRGB(img, detSize, detSize)
	copy(e.detInput.GetData(), chwNormalize(resized, detSize, detSize))

	if err := e.detSession.Run(); err != nil {
		return nil, fmt.Errorf("ocr detector inference: %w", err)
	}

	probs := e.detOutput.GetData()
	mask := make([]bool, detSize*detSize)
	for i, p := range probs {
		mask[i] = p > probThreshold
	}

	bounds := img.Bounds()
	scaleX := float64(bounds.Dx()) / detSize
	scaleY := float64(bounds.Dy()) / detSize

	var boxes []image.Rectangle
	for _, r := range connectedRegions(mask, detSize, detSize) {
		if (r.Dx()+1)*(r.Dy()+1) < minRegionArea {
			continue
		}
		boxes = append(boxes, image.Rect(
			bounds.Min.X+int(float64(r.Min.X)*scaleX),
			bounds.Min.Y+int(float64(r.Min.Y)*scaleY),
			bounds.Min.X+int(float64(r.Max.X+1)*scaleX),
			bounds.Min.Y+int(float64(r.Max.Y+1)*scaleY),
		))
	}
	return boxes, nil
}

func (e *Engine) recognize(region image.Image) (string, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resized := resizeRGB(region, recWidth, recHeight)
	copy(e.recInput.GetData(), chwNormalize(resized, recWidth, recHeight))

	if err := e.recSession.Run(); err != nil {
		return "", 0, fmt.Errorf("ocr recognizer inference: %w", err)
	}

	return e.ctcDecode(e.recOutput.GetData())
}

// ctcDecode performs greedy CTC decoding: argmax per timestep, collapse
// repeats, drop blanks. Confidence is the mean probability of the
// emitted characters.
func (e *Engine) ctcDecode(probs []float32) (string, float64, error) {
	classes := len(e.charset) + 1

	var sb strings.Builder
	var confSum float64
	var emitted int
	prev := -1

	for t := 0; t < e.recSteps; t++ {
		row := probs[t*classes : (t+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if best != 0 && best != prev {
			if best-1 >= len(e.charset) {
				return "", 0, fmt.Errorf("ocr charset index %d out of range", best-1)
			}
			sb.WriteRune(e.charset[best-1])
			confSum += float64(row[best])
			emitted++
		}
		prev = best
	}

	if emitted == 0 {
		return "", 0, nil
	}
	return sb.String(), confSum / float64(emitted), nil
}

// Close releases the ONNX sessions and tensors.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detSession != nil {
		e.detSession.Destroy()
		e.detInput.Destroy()
		e.detOutput.Destroy()
		e.detSession = nil
	}
	if e.recSession != nil {
		e.recSession.Destroy()
		e.recInput.Destroy()
		e.recOutput.Destroy()
		e.recSession = nil
	}
}

func loadCharset(path string) ([]rune, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ocr charset: %w", err)
	}
	var charset []rune
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		charset = append(charset, []rune(line)[0])
	}
	if len(charset) == 0 {
		return nil, fmt.Errorf("ocr charset %s is empty", path)
	}
	return charset, nil
}

// connectedRegions labels 4-connected true pixels and returns the
// bounding box of each component.
func connectedRegions(mask []bool, w, h int) []image.Rectangle {
	seen := make([]bool, len(mask))
	var regions []image.Rectangle
	var stack []int

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		minX, minY := w, h
		maxX, maxY := 0, 0

		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			for _, n := range [4]int{idx - 1, idx + 1, idx - w, idx + w} {
				if n < 0 || n >= len(mask) || seen[n] || !mask[n] {
					continue
				}
				// Left/right neighbours must stay on the same row.
				if (n == idx-1 || n == idx+1) && n/w != y {
					continue
				}
				seen[n] = true
				stack = append(stack, n)
			}
		}
		regions = append(regions, image.Rect(minX, minY, maxX, maxY))
	}
	return regions
}

func cropBox(img image.Image, box image.Rectangle) image.Image {
	box = box.Intersect(img.Bounds())
	if box.Dx() < 2 || box.Dy() < 2 {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	for y := 0; y < box.Dy(); y++ {
		for x := 0; x < box.Dx(); x++ {
			out.Set(x, y, img.At(box.Min.X+x, box.Min.Y+y))
		}
	}
	return out
}

func resizeRGB(img image.Image, w, h int) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/h
		for x := 0; x < w; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/w
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

// chwNormalize converts to planar CHW with values scaled to [-1, 1].
func chwNormalize(img *image.RGBA, w, h int) []float32 {
	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			i := y*w + x
			data[i] = float32(r>>8)/127.5 - 1
			data[plane+i] = float32(g>>8)/127.5 - 1
			data[2*plane+i] = float32(b>>8)/127.5 - 1
		}
	}
	return data
}
