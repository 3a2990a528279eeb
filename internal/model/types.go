package model

// Metadata describes an ONNX classifier exported next to its model file.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Task names a field of the prediction summary.
type Task string

const (
	TaskTeam   Task = "team"
	TaskObject Task = "object"
	TaskAnimal Task = "animal"
	TaskNumber Task = "number"
)

// Tasks reported by Health, in the order the service advertises them.
var healthTasks = []string{"objects", "animals", "teams", "numbers"}

type ScoredLabel struct {
	Label string
	Score float64
}

// RankedList is sorted by descending score.
type RankedList []ScoredLabel

// Top returns at most n leading entries.
func (r RankedList) Top(n int) RankedList {
	if n < 0 {
		n = 0
	}
	if len(r) <= n {
		return r
	}
	return r[:n]
}

// Detection is a labelled score as it appears on the wire.
type Detection struct {
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

type SummaryEntry struct {
	Task  Task    `json:"task" yaml:"task"`
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

type TopK struct {
	Animals []Detection `json:"animals" yaml:"animals"`
	Teams   []Detection `json:"teams" yaml:"teams"`
}

type Timings struct {
	Total float64 `json:"total" yaml:"total"`
}

// PredictionResult is the response to a single Run call.
type PredictionResult struct {
	RequestID    string         `json:"request_id" yaml:"request_id"`
	ModelVersion string         `json:"model_version" yaml:"model_version"`
	Summary      []SummaryEntry `json:"summary" yaml:"summary"`
	Detections   []Detection    `json:"detections" yaml:"detections"`
	OCR          []Detection    `json:"ocr" yaml:"ocr"`
	TopK         TopK           `json:"topk" yaml:"topk"`
	TimingsMs    Timings        `json:"timings_ms" yaml:"timings_ms"`
	Timestamp    string         `json:"timestamp" yaml:"timestamp"`
}

type Health struct {
	Status       string   `json:"status" yaml:"status"`
	Loaded       bool     `json:"loaded" yaml:"loaded"`
	ModelVersion string   `json:"model_version" yaml:"model_version"`
	Tasks        []string `json:"tasks" yaml:"tasks"`
}

type Input struct {
	ContentType string
	Data        []byte
}
