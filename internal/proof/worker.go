package proof

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"classattend/internal/gallery"
	"classattend/internal/queue"
)

// MessageType tags proof jobs on the queue.
const MessageType = "proof"

// Job is the payload published after a successful mark: persist the proof
// frame and feed it back into the student's gallery for continuous learning.
type Job struct {
	StudentID  string    `json:"student_id"`
	Name       string    `json:"name"`
	Subject    string    `json:"subject"`
	CapturedAt time.Time `json:"captured_at"`
	Frame      []byte    `json:"frame"`
}

// RunWorker drains proof jobs from q until ctx is cancelled. Each job saves
// the proof locally, optionally mirrors it remotely, and adds the frame to
// the gallery (bumping the generation so the match index rebuilds).
func RunWorker(ctx context.Context, q queue.Queue, store *Store, g *gallery.Gallery, remote *Remote) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}

	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			log.Printf("proof job decode failed: %v", err)
			continue
		}

		path, err := store.Save(job.StudentID, job.Name, job.Subject, job.CapturedAt, job.Frame)
		if err != nil {
			log.Printf("proof save failed for %s: %v", job.StudentID, err)
			continue
		}
		log.Printf("proof saved: %s", path)

		if remote != nil {
			if result, err := remote.Upload(job.Frame, job.StudentID+".jpg"); err != nil {
				log.Printf("proof remote upload failed for %s: %v", job.StudentID, err)
			} else {
				log.Printf("proof mirrored: %s", result.SecureURL)
			}
		}

		// Continuous learning: verified frames become reference images.
		if err := g.AddImages(job.StudentID, [][]byte{job.Frame}); err != nil {
			log.Printf("retrain image add failed for %s: %v", job.StudentID, err)
		}
	}
	return nil
}
