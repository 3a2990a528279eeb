package model

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
)

var ortEnv struct {
	sync.Mutex
	ready bool
}

// InitRuntime loads the onnxruntime shared library once per process.
// An empty libPath keeps the library's default search path.
func InitRuntime(libPath string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ortEnv.ready {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	ortEnv.ready = true
	return nil
}

// ShutdownRuntime releases the onnxruntime environment. Scorers must be
// closed first.
func ShutdownRuntime() {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if !ortEnv.ready {
		return
	}
	ort.DestroyEnvironment()
	ortEnv.ready = false
}

// ONNXScorer ranks labels with an image classifier. The session owns a
// single pair of tensors, so Score calls are serialized.
type ONNXScorer struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	decoder      Decoder
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXScorer opens modelPath with the shapes described by metadataPath.
// InitRuntime must have succeeded beforehand.
func NewONNXScorer(modelPath, metadataPath string, decoder Decoder) (*ONNXScorer, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.ImageSize <= 0 {
		return nil, fmt.Errorf("metadata image_size must be positive, got %d", metadata.ImageSize)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXScorer{
		session:      session,
		Metadata:     metadata,
		decoder:      decoder,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *ONNXScorer) Score(ctx context.Context, data []byte, labels LabelSet) (RankedList, error) {
	img, err := s.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return s.ScoreDecoded(ctx, img, data, labels)
}

func (s *ONNXScorer) ScoreDecoded(_ context.Context, img image.Image, _ []byte, labels LabelSet) (RankedList, error) {
	if err := matchClasses(s.Metadata.Classes, labels); err != nil {
		return nil, err
	}
	input := preprocessImage(img, s.Metadata.ImageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.inputTensor.GetData()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input tensor holds %d values, image produced %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := s.outputTensor.GetData()
	if len(logits) < labels.Len() {
		return nil, fmt.Errorf("output tensor holds %d values, want %d", len(logits), labels.Len())
	}
	probs := softmax(logits[:labels.Len()])

	ranked := make(RankedList, labels.Len())
	for i, p := range probs {
		ranked[i] = ScoredLabel{Label: labels.At(i), Score: float64(p)}
	}
	sortRanked(ranked)
	return ranked, nil
}

func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}

// matchClasses requires labels to name the model outputs in the model's own
// order, since logits are labelled by position.
func matchClasses(classes []string, labels LabelSet) error {
	if labels.Len() != len(classes) {
		return fmt.Errorf("model has %d classes, label set has %d", len(classes), labels.Len())
	}
	for i, c := range classes {
		if labels.At(i) != c {
			return fmt.Errorf("label %d is %q, model class is %q", i, labels.At(i), c)
		}
	}
	return nil
}

// preprocessImage resizes img to size x size and packs it as CHW floats in [0,1].
func preprocessImage(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			out[i] = float32(r) / 65535.0
			out[plane+i] = float32(g) / 65535.0
			out[2*plane+i] = float32(b) / 65535.0
		}
	}
	return out
}

// softmax is shifted by the max logit for stability.
func softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
