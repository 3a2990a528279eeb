package model

import (
	"context"
	"image"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LoadFunc builds a Scorer, typically by fetching and opening a model.
type LoadFunc func(ctx context.Context) (Scorer, error)

// LazyScorer defers loading its Scorer until the first Score call.
// Concurrent first calls share a single load; a failed load is retried
// by the next caller. The load runs detached from the caller's
// cancellation so one abandoned request cannot fail the others waiting
// on it.
type LazyScorer struct {
	name  string
	load  LoadFunc
	group singleflight.Group

	mu     sync.RWMutex
	scorer Scorer
}

func NewLazyScorer(name string, load LoadFunc) *LazyScorer {
	return &LazyScorer{name: name, load: load}
}

func (l *LazyScorer) Score(ctx context.Context, data []byte, labels LabelSet) (RankedList, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, data, labels)
}

// ScoreDecoded hands img to the loaded scorer when it accepts decoded
// images and falls back to Score otherwise.
func (l *LazyScorer) ScoreDecoded(ctx context.Context, img image.Image, data []byte, labels LabelSet) (RankedList, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	if is, ok := s.(ImageScorer); ok {
		return is.ScoreDecoded(ctx, img, data, labels)
	}
	return s.Score(ctx, data, labels)
}

func (l *LazyScorer) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scorer != nil
}

func (l *LazyScorer) get(ctx context.Context) (Scorer, error) {
	l.mu.RLock()
	s := l.scorer
	l.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := l.group.Do(l.name, func() (interface{}, error) {
		l.mu.RLock()
		s := l.scorer
		l.mu.RUnlock()
		if s != nil {
			return s, nil
		}

		s, err := l.load(loadCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.scorer = s
		l.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Scorer), nil
}

func (l *LazyScorer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.scorer.(io.Closer)
	l.scorer = nil
	if !ok {
		return nil
	}
	return c.Close()
}
