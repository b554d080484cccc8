package face

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSkipModeCannedResults(t *testing.T) {
	c := New("", true)
	ctx := context.Background()

	rep, err := c.Represent(ctx, []byte("frame"), []string{ModelAppearance, ModelAge})
	if err != nil {
		t.Fatalf("Represent: %v", err)
	}
	if rep.FacesDetected != 1 {
		t.Fatalf("faces = %d", rep.FacesDetected)
	}
	for _, m := range []string{ModelAppearance, ModelAge} {
		if len(rep.Embeddings[m]) == 0 {
			t.Fatalf("no embedding for %s", m)
		}
	}

	ana, err := c.Analyze(ctx, []byte("frame"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if ana.FacesDetected != 1 || ana.DominantEmotion != "happy" {
		t.Fatalf("analyze = %+v", ana)
	}

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestRepresentAgainstEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/represent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Image  string   `json:"image"`
			Models []string `json:"models"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Image == "" || len(req.Models) != 1 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"faces_detected": 1,
			"embeddings":     map[string][]float64{ModelAppearance: {0.5, 0.5}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	rep, err := c.Represent(context.Background(), []byte("frame"), []string{ModelAppearance})
	if err != nil {
		t.Fatalf("Represent: %v", err)
	}
	if rep.FacesDetected != 1 || len(rep.Embeddings[ModelAppearance]) != 2 {
		t.Fatalf("rep = %+v", rep)
	}
}

func TestAnalyzeEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if _, err := c.Analyze(context.Background(), []byte("frame")); err == nil {
		t.Fatal("engine error not surfaced")
	}
}

func TestRepresentRequiresImage(t *testing.T) {
	c := New("http://unused", false)
	if _, err := c.Represent(context.Background(), nil, []string{ModelAppearance}); err == nil {
		t.Fatal("empty image accepted")
	}
}
