package match

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"

	"classattend/internal/face"
	"classattend/internal/gallery"
	"classattend/internal/twins"
)

// twinTighten shrinks the accept threshold for students registered as twins.
// Embedding distance alone separates twins poorly, so a closer match is
// demanded before the ensemble agreement check even applies.
const twinTighten = 0.9

// Reason classifies why a frame was not accepted as the claimed student.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoFaceDetected   Reason = "no_face_detected"
	ReasonBelowConfidence  Reason = "below_confidence"
	ReasonNoMatch          Reason = "no_match"
	ReasonIdentityMismatch Reason = "identity_mismatch"
)

// Decision is the outcome of a one-to-many identification.
type Decision struct {
	Accepted    bool
	Reason      Reason
	StudentID   string
	StudentName string
	Distance    float64
}

// Engine is the slice of the face engine the matcher needs.
type Engine interface {
	Represent(ctx context.Context, image []byte, models []string) (*face.RepresentResult, error)
}

// Matcher identifies a captured frame against the gallery. Reference
// embeddings are cached per gallery generation; any enrollment mutation bumps
// the generation and the next match rebuilds the index.
type Matcher struct {
	engine    Engine
	gallery   *gallery.Gallery
	twins     *twins.Registry
	threshold float64

	mu    sync.Mutex
	cache *index
}

type indexEntry struct {
	studentID string
	vectors   map[string][]float64
}

type index struct {
	generation uint64
	models     map[string]bool
	entries    []indexEntry
}

// New creates a matcher. threshold is the maximum cosine distance for a
// standard (non-twin) accept.
func New(engine Engine, g *gallery.Gallery, tw *twins.Registry, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.4
	}
	return &Matcher{engine: engine, gallery: g, twins: tw, threshold: threshold}
}

// Identify decides whether frame shows the student with claimedID. The best
// gallery match under the threshold resolves the identity; it must agree with
// the claim or the decision is an identity mismatch even though a face was
// recognized. Students in a twin group get the tightened threshold plus an
// agreement requirement across the appearance, age and gender signals.
func (m *Matcher) Identify(ctx context.Context, frame []byte, claimedID string) (Decision, error) {
	isTwin, err := m.twins.IsTwin(claimedID)
	if err != nil {
		return Decision{}, fmt.Errorf("twin lookup: %w", err)
	}

	models := []string{face.ModelAppearance}
	if isTwin {
		models = append(models, face.ModelAge, face.ModelGender)
	}

	probe, err := m.engine.Represent(ctx, frame, models)
	if err != nil {
		return Decision{}, fmt.Errorf("represent frame: %w", err)
	}
	if probe.FacesDetected == 0 {
		return Decision{Reason: ReasonNoFaceDetected}, nil
	}
	probeVec, ok := probe.Embeddings[face.ModelAppearance]
	if !ok || len(probeVec) == 0 {
		return Decision{Reason: ReasonNoFaceDetected}, nil
	}

	idx, err := m.indexFor(ctx, models)
	if err != nil {
		return Decision{}, fmt.Errorf("build gallery index: %w", err)
	}
	if len(idx.entries) == 0 {
		return Decision{Reason: ReasonNoMatch}, nil
	}

	bestID, bestDist := bestCandidate(idx.entries, face.ModelAppearance, probeVec)
	if bestID == "" {
		return Decision{Reason: ReasonNoMatch}, nil
	}

	threshold := m.threshold
	if isTwin {
		threshold *= twinTighten
	}
	if bestDist > threshold {
		return Decision{Reason: ReasonBelowConfidence, Distance: bestDist}, nil
	}

	if isTwin {
		// Every auxiliary signal must independently resolve to the same
		// student; a lone appearance match is not enough for twins.
		for _, model := range []string{face.ModelAge, face.ModelGender} {
			auxVec, ok := probe.Embeddings[model]
			if !ok || len(auxVec) == 0 {
				return Decision{Reason: ReasonBelowConfidence, Distance: bestDist}, nil
			}
			auxID, _ := bestCandidate(idx.entries, model, auxVec)
			if auxID != bestID {
				return Decision{Reason: ReasonBelowConfidence, Distance: bestDist}, nil
			}
		}
	}

	if bestID != claimedID {
		return Decision{Reason: ReasonIdentityMismatch, StudentID: bestID, Distance: bestDist}, nil
	}

	student, ok := m.gallery.Get(bestID)
	if !ok {
		return Decision{Reason: ReasonNoMatch}, nil
	}
	return Decision{
		Accepted:    true,
		StudentID:   student.ID,
		StudentName: student.Name,
		Distance:    bestDist,
	}, nil
}

// bestCandidate returns the student whose reference image is closest to vec
// under the given model, with the winning distance.
func bestCandidate(entries []indexEntry, model string, vec []float64) (string, float64) {
	bestID, bestDist := "", math.MaxFloat64
	for _, entry := range entries {
		ref, ok := entry.vectors[model]
		if !ok || len(ref) == 0 {
			continue
		}
		if d := cosineDistance(vec, ref); d < bestDist {
			bestID, bestDist = entry.studentID, d
		}
	}
	return bestID, bestDist
}

// indexFor returns the cached embedding index, rebuilding it when the gallery
// generation moved on or when models beyond the cached set are needed.
func (m *Matcher) indexFor(ctx context.Context, models []string) (*index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.gallery.Generation()
	if m.cache != nil && m.cache.generation == gen && coversModels(m.cache.models, models) {
		return m.cache, nil
	}

	idx := &index{generation: gen, models: make(map[string]bool, len(models))}
	for _, model := range models {
		idx.models[model] = true
	}

	students, err := m.gallery.List()
	if err != nil {
		return nil, err
	}
	for _, student := range students {
		paths, err := m.gallery.ImagePaths(student.ID)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			img, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read reference image: %w", err)
			}
			rep, err := m.engine.Represent(ctx, img, models)
			if err != nil {
				return nil, fmt.Errorf("represent reference image %s: %w", path, err)
			}
			if rep.FacesDetected == 0 {
				log.Printf("no face in reference image %s, skipping", path)
				continue
			}
			idx.entries = append(idx.entries, indexEntry{
				studentID: student.ID,
				vectors:   rep.Embeddings,
			})
		}
	}

	m.cache = idx
	return idx, nil
}

func coversModels(have map[string]bool, want []string) bool {
	for _, model := range want {
		if !have[model] {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 minus the cosine similarity of a and b. Degenerate
// vectors (zero norm or length mismatch) count as maximally distant.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
