package liveness

import (
	"context"
	"log"

	"classattend/internal/face"
)

// aliveClass is the affect the gate expects from a live presentation; the
// capture page asks the student to smile.
const aliveClass = "happy"

// Analyzer is the slice of the face engine the gate needs.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*face.AnalyzeResult, error)
}

// Gate decides whether a single captured frame came from a live person.
// It fails closed: any analysis error counts as not live.
type Gate struct {
	engine    Analyzer
	threshold float64
}

// NewGate creates a gate. threshold is the minimum confidence for the alive
// class when it is not already the dominant one.
func NewGate(engine Analyzer, threshold float64) *Gate {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Gate{engine: engine, threshold: threshold}
}

// IsLive reports whether frame shows a live presentation.
func (g *Gate) IsLive(ctx context.Context, frame []byte) bool {
	result, err := g.engine.Analyze(ctx, frame)
	if err != nil {
		log.Printf("liveness analysis failed: %v", err)
		return false
	}
	if result.FacesDetected == 0 {
		return false
	}
	if result.DominantEmotion == aliveClass {
		return true
	}
	return result.Emotions[aliveClass] > g.threshold
}
