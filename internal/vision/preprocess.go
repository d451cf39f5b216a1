package vision

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
)

// ErrBadImage indicates the upload could not be decoded as an image.
var ErrBadImage = errors.New("unreadable image data")

// DecodeImage decodes uploaded bytes. JPEG first (the common case for
// webcam and document captures), then any other registered format.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrBadImage
	}
	return img, nil
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// toCHW converts an image to CHW float32 layout with per-channel
// normalization: pixel = (pixel - mean) / std.
func toCHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for
// model input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == targetW && srcH == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// cropRegion extracts a padded face region from the image. pad is the
// fraction of box size added on each side. Returns nil for a
// degenerate box.
func cropRegion(img image.Image, box [4]float32, pad float32) image.Image {
	bounds := img.Bounds()

	w := box[2] - box[0]
	h := box[3] - box[1]
	x1 := int(box[0] - w*pad)
	y1 := int(box[1] - h*pad)
	x2 := int(box[2] + w*pad)
	y2 := int(box[3] + h*pad)

	x1 = clampI(x1, bounds.Min.X, bounds.Max.X)
	y1 = clampI(y1, bounds.Min.Y, bounds.Max.Y)
	x2 = clampI(x2, bounds.Min.X, bounds.Max.X)
	y2 = clampI(y2, bounds.Min.Y, bounds.Max.Y)

	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

// faceFrameRatio is the fraction of the frame covered by the face box.
func faceFrameRatio(box [4]float32, frameW, frameH int) float64 {
	if frameW <= 0 || frameH <= 0 {
		return 0
	}
	area := float64(box[2]-box[0]) * float64(box[3]-box[1])
	return area / (float64(frameW) * float64(frameH))
}

// l2Normalize scales the vector to unit length in-place.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// softmax converts logits to probabilities.
func softmax(logits []float32) []float32 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func clampI(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
