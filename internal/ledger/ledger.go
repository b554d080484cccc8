package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeOfDay  = "15:04:05"
	fileName   = "attendance.csv"
)

// MarkResult reports whether MarkPresent stored a new row.
type MarkResult int

const (
	Inserted MarkResult = iota
	AlreadyPresent
)

// Record is one attendance row inside a date partition.
type Record struct {
	Name    string `json:"Name"`
	Time    string `json:"Time"`
	Subject string `json:"Subject"`
}

// DayReport splits the roster into present and absent for one day.
type DayReport struct {
	Present []Record `json:"present"`
	Absent  []string `json:"absent"`
}

// OverallRow is one student's aggregate over all partitions.
type OverallRow struct {
	Student      string  `json:"student"`
	PresentCount int     `json:"present_count"`
	TotalClasses int     `json:"total_classes"`
	Percentage   float64 `json:"percentage"`
}

// SubjectCount is a per-subject slice of a student's summary.
type SubjectCount struct {
	Subject string `json:"subject"`
	Present int    `json:"present"`
	Total   int    `json:"total"`
}

// StudentSummary is the detailed per-subject breakdown for one student.
type StudentSummary struct {
	Student           string         `json:"student_name"`
	SubjectBreakdown  []SubjectCount `json:"subject_breakdown"`
	GrandTotalPresent int            `json:"grand_total_present"`
	GrandTotalClasses int            `json:"grand_total_classes"`
}

// Ledger is an append-only attendance store with one CSV partition per
// calendar date. Within a partition at most one row exists per
// (student, subject) pair; MarkPresent enforces this under a per-date lock so
// concurrent submissions cannot both insert.
type Ledger struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger rooted at dir.
func New(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &Ledger{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// MarkPresent records that name attended subject at the given instant. A
// second call for the same (name, subject) on the same date is a no-op
// returning AlreadyPresent.
func (l *Ledger) MarkPresent(name, subject string, at time.Time) (MarkResult, error) {
	date := at.Format(dateLayout)
	lock := l.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	records, err := l.readPartition(date)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if rec.Name == name && rec.Subject == subject {
			return AlreadyPresent, nil
		}
	}

	records = append(records, Record{
		Name:    name,
		Time:    at.Format(timeOfDay),
		Subject: subject,
	})
	if err := l.writePartition(date, records); err != nil {
		return 0, err
	}
	return Inserted, nil
}

// QueryDay returns who was present on date (optionally filtered by subject;
// "" or "all" means every subject) and which roster members were not.
func (l *Ledger) QueryDay(date, subject string, roster []string) (DayReport, error) {
	lock := l.dateLock(date)
	lock.Lock()
	records, err := l.readPartition(date)
	lock.Unlock()
	if err != nil {
		return DayReport{}, err
	}

	report := DayReport{Present: []Record{}, Absent: []string{}}
	seen := make(map[string]bool)
	for _, rec := range records {
		if !subjectMatches(subject, rec.Subject) {
			continue
		}
		report.Present = append(report.Present, rec)
		seen[rec.Name] = true
	}
	for _, name := range roster {
		if !seen[name] {
			report.Absent = append(report.Absent, name)
		}
	}
	return report, nil
}

// QueryOverall aggregates attendance percentages across all partitions.
// TotalClasses counts the partitions holding at least one row for the subject
// (any row when the filter is "all"); the percentage is 0 when no classes
// were held.
func (l *Ledger) QueryOverall(subject string, roster []string) ([]OverallRow, error) {
	dates, err := l.Dates()
	if err != nil {
		return nil, err
	}

	totalClasses := 0
	presentCount := make(map[string]int, len(roster))
	for _, date := range dates {
		records, err := l.readPartitionLocked(date)
		if err != nil {
			return nil, err
		}
		names := make(map[string]bool)
		for _, rec := range records {
			if subjectMatches(subject, rec.Subject) {
				names[rec.Name] = true
			}
		}
		if len(names) == 0 {
			continue
		}
		totalClasses++
		for name := range names {
			presentCount[name]++
		}
	}

	rows := make([]OverallRow, 0, len(roster))
	for _, name := range roster {
		present := presentCount[name]
		pct := 0.0
		if totalClasses > 0 {
			pct = float64(present) / float64(totalClasses) * 100
		}
		rows = append(rows, OverallRow{
			Student:      name,
			PresentCount: present,
			TotalClasses: totalClasses,
			Percentage:   pct,
		})
	}
	return rows, nil
}

// DetailedOverall builds the per-subject breakdown for every roster member,
// with grand totals across subjects.
func (l *Ledger) DetailedOverall(roster, subjects []string) ([]StudentSummary, error) {
	dates, err := l.Dates()
	if err != nil {
		return nil, err
	}

	partitions := make([][]Record, 0, len(dates))
	for _, date := range dates {
		records, err := l.readPartitionLocked(date)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, records)
	}

	summaries := make([]StudentSummary, 0, len(roster))
	for _, name := range roster {
		summary := StudentSummary{Student: name, SubjectBreakdown: []SubjectCount{}}
		for _, subject := range subjects {
			count := SubjectCount{Subject: subject}
			for _, records := range partitions {
				held, present := false, false
				for _, rec := range records {
					if rec.Subject != subject {
						continue
					}
					held = true
					if rec.Name == name {
						present = true
					}
				}
				if held {
					count.Total++
					if present {
						count.Present++
					}
				}
			}
			summary.SubjectBreakdown = append(summary.SubjectBreakdown, count)
			summary.GrandTotalPresent += count.Present
			summary.GrandTotalClasses += count.Total
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RenameStudent rewrites every partition replacing oldName with newName.
func (l *Ledger) RenameStudent(oldName, newName string) error {
	dates, err := l.Dates()
	if err != nil {
		return err
	}
	for _, date := range dates {
		lock := l.dateLock(date)
		lock.Lock()
		records, err := l.readPartition(date)
		if err != nil {
			lock.Unlock()
			return err
		}
		changed := false
		for i := range records {
			if records[i].Name == oldName {
				records[i].Name = newName
				changed = true
			}
		}
		if changed {
			err = l.writePartition(date, records)
		}
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Dates lists existing partitions in ascending order.
func (l *Ledger) Dates() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read ledger dir: %w", err)
	}
	var dates []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(dateLayout, entry.Name()); err != nil {
			continue
		}
		dates = append(dates, entry.Name())
	}
	sort.Strings(dates)
	return dates, nil
}

func subjectMatches(filter, subject string) bool {
	return filter == "" || filter == "all" || filter == subject
}

func (l *Ledger) dateLock(date string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[date]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[date] = lock
	}
	return lock
}

func (l *Ledger) readPartitionLocked(date string) ([]Record, error) {
	lock := l.dateLock(date)
	lock.Lock()
	defer lock.Unlock()
	return l.readPartition(date)
}

func (l *Ledger) readPartition(date string) ([]Record, error) {
	path := filepath.Join(l.root, date, fileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open partition %s: %w", date, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", date, err)
	}

	var records []Record
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue // header or malformed row
		}
		records = append(records, Record{Name: row[0], Time: row[1], Subject: row[2]})
	}
	return records, nil
}

func (l *Ledger) writePartition(date string, records []Record) error {
	dir := filepath.Join(l.root, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	path := filepath.Join(dir, fileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create partition file: %w", err)
	}

	w := csv.NewWriter(f)
	rows := [][]string{{"Name", "Time", "Subject"}}
	for _, rec := range records {
		rows = append(rows, []string{rec.Name, rec.Time, rec.Subject})
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write partition: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
