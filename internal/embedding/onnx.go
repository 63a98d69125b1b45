//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/docsight/internal/vector"
)

const defaultONNXMaxTokens = 256

// Input and output names of the sentence-transformer exports used for chunk embeddings.
var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// ONNXEmbedder embeds chunks and queries with a local model when embedding.provider is
// "onnx", so documents never leave the host. Wrap it in a CachedEmbedder for repeated texts.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *onnxTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// onnxTensors are bound to the session once; each inference overwrites the inputs in place.
type onnxTensors struct {
	inputs []*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (*onnxTensors, error) {
	t := &onnxTensors{}
	shape := ort.NewShape(1, int64(maxTokens))
	for _, name := range onnxInputNames {
		in, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			t.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		t.inputs = append(t.inputs, in)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		t.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	t.output = out
	return t, nil
}

func (t *onnxTensors) bindings() (in, out []ort.ArbitraryTensor) {
	for _, x := range t.inputs {
		in = append(in, x)
	}
	return in, []ort.ArbitraryTensor{t.output}
}

func (t *onnxTensors) destroy() {
	for _, x := range t.inputs {
		_ = x.Destroy()
	}
	t.inputs = nil
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
}

// NewONNXEmbedder opens the model at modelPath. dimensions must match the model's pooled
// output, which is checked against embedding.dimensions in the config.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, errors.New("embedding.model_path is required for the onnx provider")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder needs positive dimensions, got %d", dimensions)
	}
	if maxTokens <= 0 {
		maxTokens = defaultONNXMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	in, out := tensors.bindings()
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames, in, out, nil)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("failed to open ONNX model %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         tensors,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns a unit-length vector for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	for i, data := range [][]int64{ids, mask, types} {
		copy(e.io.inputs[i].GetData(), data)
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}

	vec := append([]float32(nil), e.io.output.GetData()...)
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("onnx model returned %d values, want %d: %w", len(vec), e.dimensions, ErrDimensionMismatch)
	}
	vector.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch runs one inference per text. The session has a fixed batch dimension of 1.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
