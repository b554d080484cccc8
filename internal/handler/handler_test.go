package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/attend"
	"classattend/internal/config"
	"classattend/internal/gallery"
	"classattend/internal/geo"
	"classattend/internal/ledger"
	"classattend/internal/match"
	"classattend/internal/session"
	"classattend/internal/timetable"
	"classattend/internal/twins"
)

type passGate struct{}

func (passGate) IsLive(ctx context.Context, frame []byte) bool { return true }

type fixedMatcher struct{ decision match.Decision }

func (m fixedMatcher) Identify(ctx context.Context, frame []byte, claimedID string) (match.Decision, error) {
	return m.decision, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, err := gallery.Open(t.TempDir())
	if err != nil {
		t.Fatalf("gallery.Open: %v", err)
	}
	if err := g.Enroll("alice", "Alice", [][]byte{[]byte("ref")}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	l, err := ledger.New(t.TempDir())
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	cfg := config.App{
		AdminPassword: "pw",
		JWTIssuer:     "classattend",
		JWTSigningKey: "test-key",
		AdminTokenTTL: time.Hour,
		SessionTTL:    30 * time.Minute,
	}
	sessions := session.NewRegistry()
	tt := timetable.NewStore(filepath.Join(t.TempDir(), "timetable.json"))
	tw := twins.NewRegistry(filepath.Join(t.TempDir(), "twins.json"))
	svc := attend.NewService(sessions, passGate{}, fixedMatcher{match.Decision{
		Accepted: true, StudentID: "alice", StudentName: "Alice",
	}}, g, l, nil, 100)

	h := New(cfg, sessions, tt, g, tw, l, svc)
	r := gin.New()
	r.POST("/admin/login", h.Login)
	r.POST("/api/attend/:sessionID", h.SubmitAttendance)
	r.GET("/api/students", h.ListStudents)
	return r, h
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/admin/login", gin.H{"password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/admin/login", gin.H{"password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSubmitAttendance(t *testing.T) {
	r, h := newTestRouter(t)
	sess, err := h.sessions.Create("Math", geo.Point{Latitude: 12.0, Longitude: 77.0}, time.Minute)
	if err != nil {
		t.Fatalf("session.Create: %v", err)
	}

	frame := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("frame"))
	body := gin.H{
		"image":      frame,
		"student_id": "alice",
		"location":   gin.H{"latitude": 12.0, "longitude": 77.0001},
	}

	w := doJSON(t, r, http.MethodPost, "/api/attend/"+sess.ID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}

	// Unknown session maps to 404.
	w = doJSON(t, r, http.MethodPost, "/api/attend/bogus", body)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", w.Code)
	}
}

func TestSubmitAttendanceBadImage(t *testing.T) {
	r, h := newTestRouter(t)
	sess, err := h.sessions.Create("Math", geo.Point{}, time.Minute)
	if err != nil {
		t.Fatalf("session.Create: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/attend/"+sess.ID, gin.H{
		"image":      "data:image/jpeg;base64,%%%not-base64%%%",
		"student_id": "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Fatal("undecodable image reported success")
	}
}

func TestListStudents(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Students []gallery.Student `json:"students"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Students) != 1 || resp.Students[0].ID != "alice" {
		t.Fatalf("students = %+v", resp.Students)
	}
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff}
	encoded := base64.StdEncoding.EncodeToString(raw)

	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"data url", "data:image/jpeg;base64," + encoded, true},
		{"bare base64", encoded, true},
		{"not base64", "!!!", false},
		{"empty payload", "data:image/jpeg;base64,", false},
	}
	for _, tc := range cases {
		got, err := decodeDataURL(tc.input)
		if tc.ok {
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if !bytes.Equal(got, raw) {
				t.Fatalf("%s: got %v", tc.name, got)
			}
		} else if err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}
