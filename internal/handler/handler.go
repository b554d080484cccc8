package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/attend"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/gallery"
	"classattend/internal/geo"
	"classattend/internal/ledger"
	"classattend/internal/metrics"
	"classattend/internal/session"
	"classattend/internal/timetable"
	"classattend/internal/twins"
)

// Handler holds the collaborators behind the HTTP surface.
type Handler struct {
	cfg      config.App
	sessions *session.Registry
	tt       *timetable.Store
	gallery  *gallery.Gallery
	twins    *twins.Registry
	ledger   *ledger.Ledger
	svc      *attend.Service
}

// New creates a handler.
func New(cfg config.App, sessions *session.Registry, tt *timetable.Store, g *gallery.Gallery, tw *twins.Registry, l *ledger.Ledger, svc *attend.Service) *Handler {
	return &Handler{cfg: cfg, sessions: sessions, tt: tt, gallery: g, twins: tw, ledger: l, svc: svc}
}

// ---------- Auth ----------

// Login exchanges the admin password for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password != h.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	token, exp, err := auth.Issue(h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AdminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.Unix()})
}

// ---------- Sessions ----------

// GenerateSession opens an attendance session for the subject currently in
// class and returns a shareable link.
func (h *Handler) GenerateSession(c *gin.Context) {
	var req struct {
		Location geo.Point `json:"location" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subject, active, err := h.tt.CurrentSubject()
	if err != nil {
		log.Printf("current subject lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not read the timetable."})
		return
	}
	if !active {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "No class is currently in session according to the timetable."})
		return
	}

	sess, err := h.sessions.Create(subject, req.Location, h.cfg.SessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not create session."})
		return
	}
	metrics.SessionsCreated.Inc()

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sess.ID,
		"url":        scheme + "://" + c.Request.Host + "/attend/" + sess.ID,
		"subject":    subject,
		"timeout":    int(h.cfg.SessionTTL.Minutes()),
	})
}

// RemoveSession lets the admin close a session before its TTL.
func (h *Handler) RemoveSession(c *gin.Context) {
	h.sessions.Remove(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---------- Attendance ----------

// SubmitAttendance runs the verification pipeline for one student capture.
// Both "marked" and "already marked" are HTTP 200 with success true; only the
// wording differs.
func (h *Handler) SubmitAttendance(c *gin.Context) {
	var req struct {
		Image     string    `json:"image" binding:"required"`
		Location  geo.Point `json:"location"`
		StudentID string    `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	frame, err := decodeDataURL(req.Image)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Could not decode image from webcam. Please try again."})
		return
	}

	result := h.svc.Submit(c.Request.Context(), attend.Submission{
		SessionID: c.Param("sessionID"),
		StudentID: strings.TrimSpace(req.StudentID),
		Location:  req.Location,
		Frame:     frame,
	})
	metrics.Submissions.WithLabelValues(string(result.Code)).Inc()

	status := http.StatusOK
	if result.Code == attend.CodeSessionExpired || result.Code == attend.CodeSessionNotFound {
		status = http.StatusNotFound
	}
	resp := gin.H{"success": result.Success(), "message": result.Message}
	if result.RequiresLiveness {
		resp["requires_liveness"] = true
	}
	c.JSON(status, resp)
}

// decodeDataURL accepts either a "data:image/...;base64," URL or raw base64.
func decodeDataURL(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

// ---------- Students ----------

// ListStudents returns all enrolled students.
func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.gallery.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if students == nil {
		students = []gallery.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// EnrollStudent registers a student from a multipart form with fields
// student_id, name, is_twin and one or more image files.
func (h *Handler) EnrollStudent(c *gin.Context) {
	var req struct {
		StudentID string `form:"student_id" binding:"required"`
		Name      string `form:"name" binding:"required"`
		IsTwin    bool   `form:"is_twin"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	images, err := formImages(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "At least one image is required."})
		return
	}

	if err := h.gallery.Enroll(req.StudentID, req.Name, images); err != nil {
		switch {
		case errors.Is(err, gallery.ErrDuplicateID):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Student ID \"" + req.StudentID + "\" is already in use."})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		}
		return
	}

	if req.IsTwin {
		if err := h.twins.Assign(strings.TrimSpace(req.StudentID)); err != nil {
			log.Printf("twin assign failed for %s: %v", req.StudentID, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Student \"" + req.Name + "\" added successfully."})
}

// AddStudentPhotos appends reference images to an existing student.
func (h *Handler) AddStudentPhotos(c *gin.Context) {
	id := c.Param("id")
	images, err := formImages(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No images were selected."})
		return
	}
	if err := h.gallery.AddImages(id, images); err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Student not found."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Photos added."})
}

// RenameStudent changes a display name and rewrites ledger history to match.
func (h *Handler) RenameStudent(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		NewName string `json:"new_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	student, ok := h.gallery.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Student not found."})
		return
	}
	if err := h.gallery.Rename(id, req.NewName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err := h.ledger.RenameStudent(student.Name, strings.TrimSpace(req.NewName)); err != nil {
		log.Printf("ledger rename failed for %s: %v", id, err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Renamed \"" + student.Name + "\" to \"" + req.NewName + "\"."})
}

// DeleteStudent removes a student's gallery folder and twin membership.
func (h *Handler) DeleteStudent(c *gin.Context) {
	id := c.Param("id")
	student, ok := h.gallery.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Student not found."})
		return
	}
	if err := h.gallery.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err := h.twins.Remove(id); err != nil {
		log.Printf("twin remove failed for %s: %v", id, err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Deleted \"" + student.Name + "\"."})
}

func formImages(c *gin.Context) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File["images"]
	if len(files) == 0 {
		return nil, errors.New("no images")
	}
	images := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

// ---------- Reports ----------

// TodayReport returns who is present and absent today, optionally filtered by
// subject.
func (h *Handler) TodayReport(c *gin.Context) {
	roster, err := h.gallery.Names()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	date := time.Now().Format("2006-01-02")
	report, err := h.ledger.QueryDay(date, c.DefaultQuery("subject", "all"), roster)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// OverallReport returns attendance percentages per student.
func (h *Handler) OverallReport(c *gin.Context) {
	roster, err := h.gallery.Names()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.ledger.QueryOverall(c.DefaultQuery("subject", "all"), roster)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rows})
}

// DetailedReport returns the per-subject breakdown with grand totals.
func (h *Handler) DetailedReport(c *gin.Context) {
	roster, err := h.gallery.Names()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	subjects, err := h.tt.Subjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summaries, err := h.ledger.DetailedOverall(roster, subjects)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": summaries})
}

// ---------- Timetable ----------

// GetTimetable returns the full week.
func (h *Handler) GetTimetable(c *gin.Context) {
	week, err := h.tt.Week()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timetable": week})
}

// SaveSlot creates or updates a slot.
func (h *Handler) SaveSlot(c *gin.Context) {
	var req struct {
		Day     string `json:"day" binding:"required"`
		ID      string `json:"id"`
		Subject string `json:"subject" binding:"required"`
		Start   string `json:"start" binding:"required"`
		End     string `json:"end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	slot, err := h.tt.SaveSlot(req.Day, req.ID, req.Subject, req.Start, req.End)
	if err != nil {
		if errors.Is(err, timetable.ErrSlotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Could not find slot to update."})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slot": slot})
}

// DeleteSlot removes a slot by day and id.
func (h *Handler) DeleteSlot(c *gin.Context) {
	day := c.Query("day")
	if err := h.tt.DeleteSlot(day, c.Param("id")); err != nil {
		if errors.Is(err, timetable.ErrSlotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Slot not found or already deleted."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Slot deleted."})
}

// Subjects lists distinct subjects across the week.
func (h *Handler) Subjects(c *gin.Context) {
	subjects, err := h.tt.Subjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

// CurrentSubject returns the subject currently in session, or null.
func (h *Handler) CurrentSubject(c *gin.Context) {
	subject, active, err := h.tt.CurrentSubject()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !active {
		c.JSON(http.StatusOK, gin.H{"subject": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject})
}
