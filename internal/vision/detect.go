package vision

import (
	"fmt"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// FaceBox is one detected face in original-image pixel coordinates.
type FaceBox struct {
	Box        [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Detector locates faces with a RetinaFace det_10g ONNX model. The
// session is not safe for concurrent Run, so detection is serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	scoreTensors  []*ort.Tensor[float32]
	boxTensors    []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// det_10g emits anchor outputs at three strides, two anchors per cell.
var detStrides = []int{8, 16, 32}

const detAnchorsPerCell = 2

// NewDetector loads the RetinaFace ONNX model from modelPath.
func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Row counts per stride: (640/s)^2 * 2. The landmark outputs of
	// det_10g are not requested; this service never aligns on them.
	type outputSpec struct {
		name string
		rows int64
		cols int64
	}
	specs := []outputSpec{
		{"448", 12800, 1}, // scores, stride 8
		{"471", 3200, 1},  // scores, stride 16
		{"494", 800, 1},   // scores, stride 32
		{"451", 12800, 4}, // boxes, stride 8
		{"474", 3200, 4},  // boxes, stride 16
		{"497", 800, 4},   // boxes, stride 32
	}

	names := make([]string, len(specs))
	tensors := make([]*ort.Tensor[float32], len(specs))
	values := make([]ort.Value, len(specs))
	for i, spec := range specs {
		names[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.rows, spec.cols))
		if err != nil {
			for j := 0; j < i; j++ {
				tensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		tensors[i] = t
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range tensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		scoreTensors: tensors[:3],
		boxTensors:   tensors[3:],
		threshold:    threshold,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Detect runs face detection on a preprocessed CHW input. origW/origH
// are the source image dimensions for coordinate scaling.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]FaceBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	faces := d.decode(origW, origH)
	return suppressOverlaps(faces, 0.4), nil
}

// decode converts anchor-relative distances into pixel boxes.
func (d *Detector) decode(origW, origH int) []FaceBox {
	var faces []FaceBox

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range detStrides {
		scores := d.scoreTensors[si].GetData()
		boxes := d.boxTensors[si].GetData()

		cells := d.inputW / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < cells; cy++ {
			for cx := 0; cx < cells; cx++ {
				for a := 0; a < detAnchorsPerCell; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						x1 := (anchorX - boxes[idx*4+0]*st) * scaleW
						y1 := (anchorY - boxes[idx*4+1]*st) * scaleH
						x2 := (anchorX + boxes[idx*4+2]*st) * scaleW
						y2 := (anchorY + boxes[idx*4+3]*st) * scaleH

						faces = append(faces, FaceBox{
							Box: [4]float32{
								clampF(x1, 0, float32(origW)),
								clampF(y1, 0, float32(origH)),
								clampF(x2, 0, float32(origW)),
								clampF(y2, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}

	return faces
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.scoreTensors {
		t.Destroy()
	}
	for _, t := range d.boxTensors {
		t.Destroy()
	}
}

// suppressOverlaps performs greedy non-maximum suppression.
func suppressOverlaps(faces []FaceBox, iouThreshold float32) []FaceBox {
	if len(faces) == 0 {
		return faces
	}

	sort.Slice(faces, func(i, j int) bool {
		return faces[i].Confidence > faces[j].Confidence
	})

	keep := make([]bool, len(faces))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(faces); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(faces); j++ {
			if keep[j] && iou(faces[i].Box, faces[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []FaceBox
	for i, f := range faces {
		if keep[i] {
			result = append(result, f)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := maxF(a[0], b[0])
	y1 := maxF(a[1], b[1])
	x2 := minF(a[2], b[2])
	y2 := minF(a[3], b[3])

	intersection := maxF(0, x2-x1) * maxF(0, y2-y1)

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
