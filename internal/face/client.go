package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Model names understood by the face engine.
const (
	ModelAppearance = "VGG-Face"
	ModelAge        = "Age"
	ModelGender     = "Gender"
)

// RepresentResult holds per-model embeddings for the primary face in a frame.
type RepresentResult struct {
	FacesDetected int
	Embeddings    map[string][]float64
}

// AnalyzeResult holds the affect classification for the primary face.
type AnalyzeResult struct {
	FacesDetected   int
	DominantEmotion string
	Emotions        map[string]float64
}

// Client calls the face analysis engine over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, all calls return canned results so the
// rest of the service can run without the engine.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // embedding extraction can take seconds
		},
	}
}

// Represent extracts one embedding per requested model for the primary face
// in image.
func (c *Client) Represent(ctx context.Context, image []byte, models []string) (*RepresentResult, error) {
	if c.Skip {
		embeddings := make(map[string][]float64, len(models))
		for _, m := range models {
			embeddings[m] = []float64{0.1, 0.2, 0.3}
		}
		return &RepresentResult{FacesDetected: 1, Embeddings: embeddings}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]any{
		"image":  base64.StdEncoding.EncodeToString(image),
		"models": models,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/represent", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face engine error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		FacesDetected int                  `json:"faces_detected"`
		Embeddings    map[string][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &RepresentResult{
		FacesDetected: out.FacesDetected,
		Embeddings:    out.Embeddings,
	}, nil
}

// Analyze classifies the affect of the primary face in image.
func (c *Client) Analyze(ctx context.Context, image []byte) (*AnalyzeResult, error) {
	if c.Skip {
		return &AnalyzeResult{
			FacesDetected:   1,
			DominantEmotion: "happy",
			Emotions:        map[string]float64{"happy": 0.92, "neutral": 0.05},
		}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face engine error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		FacesDetected   int                `json:"faces_detected"`
		DominantEmotion string             `json:"dominant_emotion"`
		Emotions        map[string]float64 `json:"emotions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &AnalyzeResult{
		FacesDetected:   out.FacesDetected,
		DominantEmotion: out.DominantEmotion,
		Emotions:        out.Emotions,
	}, nil
}

// Health checks if the face engine is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face engine unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face engine unhealthy: %s", resp.Status)
	}
	return nil
}
