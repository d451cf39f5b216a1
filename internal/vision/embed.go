package vision

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// embedderSpec pins the per-model constants. Embeddings from different
// models live in different spaces; the model name travels with every
// embedding consumer so thresholds stay paired correctly.
type embedderSpec struct {
	file       string
	dim        int
	inputName  string
	outputName string
}

var embedderSpecs = map[string]embedderSpec{
	"arcface":       {file: "w600k_r50.onnx", dim: 512, inputName: "input.1", outputName: "683"},
	"mobilefacenet": {file: "mobilefacenet.onnx", dim: 128, inputName: "data", outputName: "fc1"},
}

// Embedder extracts L2-normalized face embeddings from aligned face
// crops. Inference is serialized; the session is shared process-wide.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	model        string
	inputW       int
	inputH       int
	dim          int
}

// NewEmbedder loads the recognizer weights for the named model.
func NewEmbedder(modelPath, model string) (*Embedder, error) {
	spec, ok := embedderSpecs[model]
	if !ok {
		return nil, fmt.Errorf("unknown embedding model %q", model)
	}

	inputW, inputH := 112, 112

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(spec.dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{spec.inputName},
		[]string{spec.outputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		model:        model,
		inputW:       inputW,
		inputH:       inputH,
		dim:          spec.dim,
	}, nil
}

// EmbeddingDim returns the vector dimension for the named model.
// Storage schemas need the dimension before any model is loaded.
func EmbeddingDim(model string) (int, error) {
	spec, ok := embedderSpecs[model]
	if !ok {
		return 0, fmt.Errorf("unknown embedding model %q", model)
	}
	return spec.dim, nil
}

// ModelFile returns the weights filename for the named model.
func ModelFile(model string) (string, error) {
	spec, ok := embedderSpecs[model]
	if !ok {
		return "", fmt.Errorf("unknown embedding model %q", model)
	}
	return spec.file, nil
}

// Extract runs the recognizer on a preprocessed CHW face crop and
// returns a unit-length embedding.
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.outputTensor.GetData())
	l2Normalize(embedding)

	return embedding, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Dim returns the embedding vector dimension.
func (e *Embedder) Dim() int {
	return e.dim
}

// InputSize returns the expected face crop dimensions.
func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
