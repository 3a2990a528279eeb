package model

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"mime"
	"strings"
	"time"
)

// DefaultVersion is reported when no model manifest overrides it.
const DefaultVersion = "yolo@1.0.0+logos@0.1.0+ocr@0.1.0"

// Decoder validates that bytes form a raster image.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// Recorder receives exactly one outcome per Run call.
type Recorder interface {
	RecordSuccess(res *PredictionResult)
	RecordFailure(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordSuccess(*PredictionResult) {}
func (nopRecorder) RecordFailure(error)             {}

// Options configures an Ensemble. Zero fields fall back to defaults, except
// Decoder which is required.
type Options struct {
	Version  string
	Catalog  Catalog
	Decoder  Decoder
	Recorder Recorder
	// Scorers overrides the scorer used for object, animal or team ranking.
	Scorers map[Task]Scorer
	Now     func() time.Time
}

// Ensemble runs every task on an image and assembles the response.
// It holds no per-request state and is safe for concurrent use.
type Ensemble struct {
	version  string
	catalog  Catalog
	decoder  Decoder
	recorder Recorder
	objects  Scorer
	animals  Scorer
	teams    Scorer
	now      func() time.Time
}

func NewEnsemble(opts Options) (*Ensemble, error) {
	if opts.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if opts.Catalog.empty() {
		opts.Catalog = DefaultCatalog()
	}
	e := &Ensemble{
		version:  opts.Version,
		catalog:  opts.Catalog,
		decoder:  opts.Decoder,
		recorder: opts.Recorder,
		objects:  opts.Scorers[TaskObject],
		animals:  opts.Scorers[TaskAnimal],
		teams:    opts.Scorers[TaskTeam],
		now:      opts.Now,
	}
	if e.version == "" {
		e.version = DefaultVersion
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, s := range []*Scorer{&e.objects, &e.animals, &e.teams} {
		if *s == nil {
			*s = HashScorer{}
		}
	}
	return e, nil
}

func (e *Ensemble) Version() string { return e.version }

func (e *Ensemble) Health() Health {
	tasks := make([]string, len(healthTasks))
	copy(tasks, healthTasks)
	return Health{
		Status:       "ok",
		Loaded:       true,
		ModelVersion: e.version,
		Tasks:        tasks,
	}
}

// Run validates and scores one upload. Every returned error wraps one of
// ErrUnsupportedMediaType, ErrImageDecode or ErrScoring.
func (e *Ensemble) Run(ctx context.Context, in Input) (*PredictionResult, error) {
	res, err := e.run(ctx, in)
	if err != nil {
		e.recorder.RecordFailure(err)
		return nil, err
	}
	e.recorder.RecordSuccess(res)
	return res, nil
}

func (e *Ensemble) run(ctx context.Context, in Input) (res *PredictionResult, err error) {
	start := e.now()

	if !mediaTypeAllowed(in.ContentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, in.ContentType)
	}
	img, err := e.decoder.Decode(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: panic: %v", ErrScoring, r)
		}
	}()

	objects, err := e.score(ctx, e.objects, img, in.Data, e.catalog.Objects, "objects")
	if err != nil {
		return nil, err
	}
	animals, err := e.score(ctx, e.animals, img, in.Data, e.catalog.Animals, "animals")
	if err != nil {
		return nil, err
	}
	teams, err := e.score(ctx, e.teams, img, in.Data, e.catalog.Teams, "teams")
	if err != nil {
		return nil, err
	}
	digits := ExtractDigits(in.Data)

	sum := md5.Sum(in.Data)
	end := e.now()
	return Aggregate(Aggregation{
		Objects:      objects.Top(topN),
		Animals:      animals.Top(topN),
		Teams:        teams.Top(topN),
		Digits:       digits,
		RequestID:    hex.EncodeToString(sum[:]),
		ModelVersion: e.version,
		Elapsed:      end.Sub(start),
		Now:          end,
	}), nil
}

func (e *Ensemble) score(ctx context.Context, s Scorer, img image.Image, data []byte, labels LabelSet, name string) (RankedList, error) {
	var (
		ranked RankedList
		err    error
	)
	if is, ok := s.(ImageScorer); ok {
		ranked, err = is.ScoreDecoded(ctx, img, data, labels)
	} else {
		ranked, err = s.Score(ctx, data, labels)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScoring, name, err)
	}
	return ranked, nil
}

// mediaTypeAllowed accepts image/* and undeclared content. Octet streams
// are left for the decoder to judge.
func mediaTypeAllowed(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/") || mt == "application/octet-stream"
}
