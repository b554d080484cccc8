package timetable

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// A slot accepts attendance from a little before its start until a little
	// after its end, so sessions can be opened while students settle in.
	graceBefore = 10 * time.Minute
	graceAfter  = 15 * time.Minute

	timeLayout = "15:04"
)

// ErrSlotNotFound is returned when a slot id does not exist for the given day.
var ErrSlotNotFound = errors.New("slot not found")

// Slot is a single weekly class period.
type Slot struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Start   string `json:"start"` // "HH:MM"
	End     string `json:"end"`   // "HH:MM"
}

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Store is a JSON-file-backed weekly timetable keyed by day-of-week name.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore creates a store persisting to path. The file is created on first write.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Week returns the full timetable. Legacy slots missing an id are assigned
// one and the repaired file is written back.
func (s *Store) Week() (map[string][]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := s.load()
	if err != nil {
		return nil, err
	}

	repaired := false
	for day, slots := range week {
		for i := range slots {
			if slots[i].ID == "" {
				slots[i].ID = uuid.NewString()
				repaired = true
			}
		}
		week[day] = slots
	}
	if repaired {
		if err := s.save(week); err != nil {
			return nil, err
		}
	}
	return week, nil
}

// SaveSlot creates a slot (empty id) or updates an existing one by id.
// Slots for a day are kept ordered by start time.
func (s *Store) SaveSlot(day, id, subject, start, end string) (Slot, error) {
	if !validDay(day) {
		return Slot{}, fmt.Errorf("invalid day %q", day)
	}
	if subject == "" {
		return Slot{}, errors.New("subject required")
	}
	if _, err := time.Parse(timeLayout, start); err != nil {
		return Slot{}, fmt.Errorf("invalid start time %q: %w", start, err)
	}
	if _, err := time.Parse(timeLayout, end); err != nil {
		return Slot{}, fmt.Errorf("invalid end time %q: %w", end, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := s.load()
	if err != nil {
		return Slot{}, err
	}

	var saved Slot
	if id != "" {
		found := false
		for i, slot := range week[day] {
			if slot.ID == id {
				week[day][i] = Slot{ID: id, Subject: subject, Start: start, End: end}
				saved = week[day][i]
				found = true
				break
			}
		}
		if !found {
			return Slot{}, ErrSlotNotFound
		}
	} else {
		saved = Slot{ID: uuid.NewString(), Subject: subject, Start: start, End: end}
		week[day] = append(week[day], saved)
	}

	sort.SliceStable(week[day], func(i, j int) bool {
		return week[day][i].Start < week[day][j].Start
	})

	if err := s.save(week); err != nil {
		return Slot{}, err
	}
	return saved, nil
}

// DeleteSlot removes the slot with the given id from day.
func (s *Store) DeleteSlot(day, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := s.load()
	if err != nil {
		return err
	}

	slots := week[day]
	kept := slots[:0]
	for _, slot := range slots {
		if slot.ID != id {
			kept = append(kept, slot)
		}
	}
	if len(kept) == len(slots) {
		return ErrSlotNotFound
	}
	week[day] = kept
	return s.save(week)
}

// Subjects returns the sorted set of distinct subjects across the week.
func (s *Store) Subjects() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := s.load()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, slots := range week {
		for _, slot := range slots {
			seen[slot.Subject] = true
		}
	}
	subjects := make([]string, 0, len(seen))
	for subject := range seen {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// CurrentSubject returns the subject whose slot is in session right now,
// counting the grace window before start and after end. The bool is false
// when no slot is active.
func (s *Store) CurrentSubject() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, err := s.load()
	if err != nil {
		return "", false, err
	}

	now := s.now()
	day := now.Weekday().String()
	for _, slot := range week[day] {
		start, err := slotTime(now, slot.Start)
		if err != nil {
			continue
		}
		end, err := slotTime(now, slot.End)
		if err != nil {
			continue
		}
		from := start.Add(-graceBefore)
		until := end.Add(graceAfter)
		if !now.Before(from) && !now.After(until) {
			return slot.Subject, true, nil
		}
	}
	return "", false, nil
}

func slotTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func validDay(day string) bool {
	for _, d := range weekdays {
		if d == day {
			return true
		}
	}
	return false
}

func (s *Store) load() (map[string][]Slot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyWeek(), nil
		}
		return nil, fmt.Errorf("read timetable: %w", err)
	}
	week := make(map[string][]Slot)
	if err := json.Unmarshal(data, &week); err != nil {
		return nil, fmt.Errorf("parse timetable: %w", err)
	}
	for _, day := range weekdays {
		if _, ok := week[day]; !ok {
			week[day] = []Slot{}
		}
	}
	return week, nil
}

func (s *Store) save(week map[string][]Slot) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create timetable dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(week, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write timetable: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func emptyWeek() map[string][]Slot {
	week := make(map[string][]Slot, len(weekdays))
	for _, day := range weekdays {
		week[day] = []Slot{}
	}
	return week
}
