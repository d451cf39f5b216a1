package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LivenessLabel classifies a live capture.
type LivenessLabel string

const (
	LivenessReal        LivenessLabel = "real"
	LivenessSpoofPrint  LivenessLabel = "spoof_print"
	LivenessSpoofScreen LivenessLabel = "spoof_screen"
	// LivenessUndetectable means the face occupies too little or too
	// much of the frame for the classifier to be trusted; the client
	// should reposition and retry with a fresh session.
	LivenessUndetectable LivenessLabel = "undetectable"
)

// LivenessClassifier runs a MiniFASNet-style anti-spoof model over the
// detected face region. The 3-way output's label order is a property
// of the model export, so the "real" index is configured, not assumed.
type LivenessClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	detector     *Detector
	realLabel    int
	minRatio     float64
	maxRatio     float64
	inputW       int
	inputH       int
}

// NewLivenessClassifier loads the anti-spoof ONNX model. The detector
// is shared with the face engine to locate the face region first.
func NewLivenessClassifier(modelPath string, detector *Detector, realLabel int, minRatio, maxRatio float64) (*LivenessClassifier, error) {
	inputW, inputH := 80, 80

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create liveness session: %w", err)
	}

	return &LivenessClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		detector:     detector,
		realLabel:    realLabel,
		minRatio:     minRatio,
		maxRatio:     maxRatio,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Check classifies a live capture. A frame with no detectable face, or
// a face outside the usable size range, yields LivenessUndetectable.
func (l *LivenessClassifier) Check(ctx context.Context, img image.Image) (LivenessLabel, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	detW, detH := l.detector.InputSize()
	detInput := toCHW(img, detW, detH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
	faces, err := l.detector.Detect(detInput, origW, origH)
	if err != nil {
		return "", fmt.Errorf("detect for liveness: %w", err)
	}
	if len(faces) == 0 {
		return LivenessUndetectable, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}

	ratio := faceFrameRatio(best.Box, origW, origH)
	if ratio < l.minRatio || ratio > l.maxRatio {
		return LivenessUndetectable, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The anti-spoof model is trained on wide crops around the face.
	crop := cropRegion(img, best.Box, 0.35)
	if crop == nil {
		return LivenessUndetectable, nil
	}

	label, err := l.classify(crop)
	if err != nil {
		return "", err
	}
	return label, nil
}

func (l *LivenessClassifier) classify(crop image.Image) (LivenessLabel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	input := toCHW(crop, l.inputW, l.inputH, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	copy(l.inputTensor.GetData(), input)

	if err := l.session.Run(); err != nil {
		return "", fmt.Errorf("run liveness: %w", err)
	}

	probs := softmax(l.outputTensor.GetData())
	top := 0
	for i, p := range probs {
		if p > probs[top] {
			top = i
		}
	}

	return l.mapLabel(top), nil
}

// mapLabel translates the winning output index into a label. The
// non-real indexes map, in ascending order, to print then screen spoof.
func (l *LivenessClassifier) mapLabel(index int) LivenessLabel {
	if index == l.realLabel {
		return LivenessReal
	}
	first := true
	for i := 0; i < 3; i++ {
		if i == l.realLabel {
			continue
		}
		if i == index {
			if first {
				return LivenessSpoofPrint
			}
			return LivenessSpoofScreen
		}
		first = false
	}
	return LivenessSpoofPrint
}

func (l *LivenessClassifier) Close() {
	if l.session != nil {
		l.session.Destroy()
	}
	if l.inputTensor != nil {
		l.inputTensor.Destroy()
	}
	if l.outputTensor != nil {
		l.outputTensor.Destroy()
	}
}
