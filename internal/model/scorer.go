package model

import (
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"sort"
)

// Scorer ranks a label set against raw image bytes.
type Scorer interface {
	Score(ctx context.Context, data []byte, labels LabelSet) (RankedList, error)
}

// ImageScorer is implemented by scorers that can reuse the image Run has
// already decoded.
type ImageScorer interface {
	Scorer
	ScoreDecoded(ctx context.Context, img image.Image, data []byte, labels LabelSet) (RankedList, error)
}

// HashScorer is a deterministic stand-in for a classifier. It seeds the
// ranking from the SHA-256 digest of the input, so identical bytes always
// produce identical rankings.
type HashScorer struct{}

// MaxHashLabels is the largest label set HashScorer can rank.
const MaxHashLabels = sha256.Size

func (HashScorer) Score(_ context.Context, data []byte, labels LabelSet) (RankedList, error) {
	if labels.Len() > MaxHashLabels {
		return nil, fmt.Errorf("%d labels exceeds digest length %d", labels.Len(), MaxHashLabels)
	}
	digest := sha256.Sum256(data)
	return rankDigest(digest[:], labels), nil
}

// rankDigest turns the first labels.Len() digest bytes into normalized weights.
func rankDigest(digest []byte, labels LabelSet) RankedList {
	weights := make([]float64, labels.Len())
	sum := 0.0
	for i := range weights {
		weights[i] = float64(digest[i]) / 255.0
		sum += weights[i]
	}
	if sum == 0 {
		sum = 1.0
	}

	ranked := make(RankedList, labels.Len())
	for i, w := range weights {
		ranked[i] = ScoredLabel{Label: labels.At(i), Score: w / sum}
	}
	sortRanked(ranked)
	return ranked
}

// sortRanked orders by descending score; equal scores keep label-set order.
func sortRanked(r RankedList) {
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Score > r[j].Score
	})
}
