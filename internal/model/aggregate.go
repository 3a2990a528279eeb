package model

import "time"

const (
	topN = 2

	// ISO-8601 with an explicit +00:00 offset for UTC.
	timestampLayout = "2006-01-02T15:04:05.000000-07:00"
)

// Aggregation carries everything Aggregate needs for one request.
type Aggregation struct {
	Objects      RankedList
	Animals      RankedList
	Teams        RankedList
	Digits       *DigitToken
	RequestID    string
	ModelVersion string
	Elapsed      time.Duration
	Now          time.Time
}

// Aggregate folds per-task rankings into a PredictionResult. The summary is
// always emitted in team, object, animal, number order.
func Aggregate(a Aggregation) *PredictionResult {
	objects := a.Objects.Top(topN)
	animals := a.Animals.Top(topN)
	teams := a.Teams.Top(topN)

	summary := make([]SummaryEntry, 0, 4)
	if len(teams) > 0 {
		summary = append(summary, summarize(TaskTeam, teams[0]))
	}
	if len(objects) > 0 {
		summary = append(summary, summarize(TaskObject, objects[0]))
	}
	if len(animals) > 0 {
		summary = append(summary, summarize(TaskAnimal, animals[0]))
	}
	ocr := make([]Detection, 0, 1)
	if a.Digits != nil {
		summary = append(summary, SummaryEntry{Task: TaskNumber, Label: a.Digits.Label, Score: a.Digits.Score})
		ocr = append(ocr, Detection{Label: a.Digits.Label, Score: a.Digits.Score})
	}

	elapsedMs := float64(a.Elapsed) / float64(time.Millisecond)

	return &PredictionResult{
		RequestID:    a.RequestID,
		ModelVersion: a.ModelVersion,
		Summary:      summary,
		Detections:   detections(objects),
		OCR:          ocr,
		TopK: TopK{
			Animals: detections(animals),
			Teams:   detections(teams),
		},
		TimingsMs: Timings{Total: roundTo(elapsedMs, 2)},
		Timestamp: a.Now.UTC().Format(timestampLayout),
	}
}

func summarize(task Task, top ScoredLabel) SummaryEntry {
	return SummaryEntry{Task: task, Label: top.Label, Score: round3(top.Score)}
}

func detections(r RankedList) []Detection {
	out := make([]Detection, len(r))
	for i, s := range r {
		out[i] = Detection{Label: s.Label, Score: round3(s.Score)}
	}
	return out
}
