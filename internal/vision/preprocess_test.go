package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestDecodeImageRejectsGarbage(t *testing.T) {
	if _, err := DecodeImage([]byte("not an image")); err != ErrBadImage {
		t.Errorf("DecodeImage error = %v, want ErrBadImage", err)
	}
}

func TestDecodeImageRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 100, A: 255})
		}
	}

	img, err := DecodeImage(EncodeJPEG(src, 90))
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("decoded bounds = %v, want 8x8", img.Bounds())
	}
}

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	l2Normalize(v)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm after normalize = %v, want 1", norm)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-5 {
		t.Errorf("v[0] = %v, want 0.6", v[0])
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := softmax([]float32{2, 1, 0.1})

	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("softmax sum = %v, want 1", sum)
	}
	if probs[0] <= probs[1] || probs[1] <= probs[2] {
		t.Errorf("softmax order not preserved: %v", probs)
	}
}

func TestFaceFrameRatio(t *testing.T) {
	// 50x50 face in a 100x100 frame covers a quarter.
	ratio := faceFrameRatio([4]float32{25, 25, 75, 75}, 100, 100)
	if math.Abs(ratio-0.25) > 1e-6 {
		t.Errorf("ratio = %v, want 0.25", ratio)
	}
}

func TestSuppressOverlaps(t *testing.T) {
	faces := []FaceBox{
		{Box: [4]float32{0, 0, 100, 100}, Confidence: 0.9},
		{Box: [4]float32{5, 5, 105, 105}, Confidence: 0.8}, // heavy overlap, dropped
		{Box: [4]float32{200, 200, 300, 300}, Confidence: 0.7},
	}

	kept := suppressOverlaps(faces, 0.4)
	if len(kept) != 2 {
		t.Fatalf("kept %d boxes, want 2", len(kept))
	}
	if kept[0].Confidence != 0.9 || kept[1].Confidence != 0.7 {
		t.Errorf("kept wrong boxes: %+v", kept)
	}
}

func TestCropRegionDegenerate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if crop := cropRegion(img, [4]float32{5, 5, 5, 5}, 0); crop != nil {
		t.Error("cropRegion returned a crop for an empty box")
	}
}

func TestLivenessLabelMapping(t *testing.T) {
	tests := []struct {
		realLabel int
		index     int
		want      LivenessLabel
	}{
		{0, 0, LivenessReal},
		{0, 1, LivenessSpoofPrint},
		{0, 2, LivenessSpoofScreen},
		{1, 1, LivenessReal},
		{1, 0, LivenessSpoofPrint},
		{1, 2, LivenessSpoofScreen},
	}

	for _, tt := range tests {
		l := &LivenessClassifier{realLabel: tt.realLabel}
		if got := l.mapLabel(tt.index); got != tt.want {
			t.Errorf("realLabel=%d index=%d: got %s, want %s", tt.realLabel, tt.index, got, tt.want)
		}
	}
}
