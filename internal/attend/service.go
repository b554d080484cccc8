package attend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"classattend/internal/gallery"
	"classattend/internal/geo"
	"classattend/internal/ledger"
	"classattend/internal/match"
	"classattend/internal/proof"
	"classattend/internal/queue"
	"classattend/internal/session"
)

// Code tags the terminal state of a submission. Every validation failure is a
// distinct terminal rejection; the two success codes differ only in wording.
type Code string

const (
	CodeMarked           Code = "marked"
	CodeAlreadyMarked    Code = "already_marked"
	CodeSessionNotFound  Code = "session_not_found"
	CodeSessionExpired   Code = "session_expired"
	CodeTooFar           Code = "too_far"
	CodeRequiresLiveness Code = "requires_liveness"
	CodeNoFaceDetected   Code = "no_face_detected"
	CodeBelowConfidence  Code = "below_confidence"
	CodeNoMatch          Code = "no_match"
	CodeIdentityMismatch Code = "identity_mismatch"
	CodeInternal         Code = "internal_error"
)

// Result is the structured outcome of a submission. No internal error ever
// escapes past it; the message is always safe to show the student.
type Result struct {
	Code             Code
	Message          string
	RequiresLiveness bool
	DistanceMeters   float64
	StudentName      string
	Subject          string
}

// Success reports whether attendance is recorded for the student, whether by
// this submission or an earlier one.
func (r Result) Success() bool {
	return r.Code == CodeMarked || r.Code == CodeAlreadyMarked
}

// Submission is one student attempt against an open session.
type Submission struct {
	SessionID string
	StudentID string
	Location  geo.Point
	Frame     []byte
}

// Gate is the liveness check the pipeline runs before identification.
type Gate interface {
	IsLive(ctx context.Context, frame []byte) bool
}

// Identifier is the face-matching step of the pipeline.
type Identifier interface {
	Identify(ctx context.Context, frame []byte, claimedID string) (match.Decision, error)
}

// Service runs the attendance-verification pipeline: session liveness,
// geofence, frame liveness, identity match, then the idempotent ledger write.
type Service struct {
	sessions *session.Registry
	gate     Gate
	matcher  Identifier
	gallery  *gallery.Gallery
	ledger   *ledger.Ledger
	proofs   queue.Queue // nil disables proof publishing

	maxDistanceMeters float64
	now               func() time.Time
}

// NewService wires the pipeline.
func NewService(sessions *session.Registry, gate Gate, matcher Identifier, g *gallery.Gallery, l *ledger.Ledger, proofs queue.Queue, maxDistanceMeters float64) *Service {
	if maxDistanceMeters <= 0 {
		maxDistanceMeters = 100
	}
	return &Service{
		sessions:          sessions,
		gate:              gate,
		matcher:           matcher,
		gallery:           g,
		ledger:            l,
		proofs:            proofs,
		maxDistanceMeters: maxDistanceMeters,
		now:               time.Now,
	}
}

// Submit runs one submission through the pipeline. Any validation failure is
// terminal; the client must resubmit a fresh frame and coordinate.
func (s *Service) Submit(ctx context.Context, sub Submission) Result {
	sess, err := s.sessions.Get(sub.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrExpired) {
			return Result{Code: CodeSessionExpired, Message: "Session expired."}
		}
		return Result{Code: CodeSessionNotFound, Message: "Attendance session not found."}
	}

	distance := geo.Distance(sess.AdminLocation, sub.Location)
	if distance > s.maxDistanceMeters {
		return Result{
			Code:           CodeTooFar,
			Message:        fmt.Sprintf("Too far: %dm. Must be within %dm.", int(distance), int(s.maxDistanceMeters)),
			DistanceMeters: distance,
		}
	}

	if sub.StudentID == "" {
		return Result{Code: CodeNoMatch, Message: "Student ID is required."}
	}
	if _, ok := s.gallery.Get(sub.StudentID); !ok {
		return Result{Code: CodeNoMatch, Message: fmt.Sprintf("No student found with ID: %s.", sub.StudentID)}
	}

	if len(sub.Frame) == 0 {
		return Result{Code: CodeNoFaceDetected, Message: "Could not decode image from webcam. Please try again."}
	}

	if !s.gate.IsLive(ctx, sub.Frame) {
		return Result{
			Code:             CodeRequiresLiveness,
			Message:          "Liveness not detected. Please smile to confirm you are live.",
			RequiresLiveness: true,
		}
	}

	decision, err := s.matcher.Identify(ctx, sub.Frame, sub.StudentID)
	if err != nil {
		log.Printf("face recognition error for session %s: %v", sub.SessionID, err)
		return Result{Code: CodeNoFaceDetected, Message: "Face recognition failed. Please try again."}
	}
	if !decision.Accepted {
		return rejectForReason(decision.Reason)
	}

	now := s.now()
	marked, err := s.ledger.MarkPresent(decision.StudentName, sess.Subject, now)
	if err != nil {
		log.Printf("ledger write failed for %s: %v", decision.StudentID, err)
		return Result{Code: CodeInternal, Message: "An unexpected server error occurred. Please try again."}
	}

	if marked == ledger.AlreadyPresent {
		return Result{
			Code:        CodeAlreadyMarked,
			Message:     fmt.Sprintf("Info: Hello, %s. You are already marked present for %s.", decision.StudentName, sess.Subject),
			StudentName: decision.StudentName,
			Subject:     sess.Subject,
		}
	}

	s.publishProof(ctx, decision, sess.Subject, now, sub.Frame)

	return Result{
		Code:        CodeMarked,
		Message:     fmt.Sprintf("Success! Welcome, %s. Attendance marked for %s.", decision.StudentName, sess.Subject),
		StudentName: decision.StudentName,
		Subject:     sess.Subject,
	}
}

func rejectForReason(reason match.Reason) Result {
	switch reason {
	case match.ReasonNoFaceDetected:
		return Result{Code: CodeNoFaceDetected, Message: "No face detected in the capture. Please try again."}
	case match.ReasonBelowConfidence:
		return Result{Code: CodeBelowConfidence, Message: "Face did not match with sufficient confidence."}
	case match.ReasonIdentityMismatch:
		return Result{Code: CodeIdentityMismatch, Message: "Student ID mismatch with recognized face."}
	default:
		return Result{Code: CodeNoMatch, Message: "Face did not match the registered student."}
	}
}

// publishProof hands the verified frame to the worker; failures only log,
// proof persistence never blocks a successful mark.
func (s *Service) publishProof(ctx context.Context, decision match.Decision, subject string, at time.Time, frame []byte) {
	if s.proofs == nil {
		return
	}
	body, err := json.Marshal(proof.Job{
		StudentID:  decision.StudentID,
		Name:       decision.StudentName,
		Subject:    subject,
		CapturedAt: at,
		Frame:      frame,
	})
	if err != nil {
		log.Printf("proof job encode failed: %v", err)
		return
	}
	if err := s.proofs.Publish(ctx, queue.Message{Type: proof.MessageType, Body: body}); err != nil {
		log.Printf("proof publish failed: %v", err)
	}
}
