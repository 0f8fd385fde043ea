// Package projection expands stored tasks into concrete calendar occurrences
// for a query window. Everything here is pure: no I/O, no shared state.
package projection

import (
	"math"
	"sort"
	"strings"
	"time"

	"taskminder/internal/model"
)

// MaxOccurrences bounds recurrence expansion per task and query.
const MaxOccurrences = 400

const (
	localDateLayout = "2006-01-02"
	isoLayout       = "2006-01-02T15:04:05.000Z"
)

// Reason explains why a task could not be projected.
type Reason string

const (
	ReasonMissingTaskID   Reason = "missing_task_id"
	ReasonMissingDates    Reason = "missing_dates"
	ReasonInvalidStart    Reason = "invalid_start"
	ReasonInvalidDue      Reason = "invalid_due"
	ReasonInvalidInterval Reason = "invalid_interval"
	ReasonInvalidFreq     Reason = "invalid_freq"
)

// Recurrence is a raw recurrence rule as stored or submitted by a client.
type Recurrence struct {
	Freq       string   `json:"freq"`
	Interval   float64  `json:"interval"`
	Until      string   `json:"until,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
}

// Task is the projectable view of a task. Dates are kept as strings so that
// malformed client data surfaces as an exclusion rather than a decode error.
type Task struct {
	ID         string      `json:"id"`
	StartDate  string      `json:"startDate,omitempty"`
	DueDate    string      `json:"dueDate,omitempty"`
	AllDay     bool        `json:"allDay,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`
}

// Window is the half-open query range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Occurrence is one concrete instance of a task.
type Occurrence struct {
	OccurrenceID      string    `json:"occurrenceId"`
	TaskID            string    `json:"taskId"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	AllDay            bool      `json:"allDay"`
	InstanceLocalDate string    `json:"instanceLocalDate,omitempty"`
}

// Exclusion names a task that produced no occurrences because of bad data.
type Exclusion struct {
	TaskID string `json:"taskId"`
	Reason Reason `json:"reason"`
}

// FromModel converts a stored task into its projectable form.
func FromModel(t model.Task) Task {
	out := Task{
		ID:        t.ID,
		StartDate: formatTime(t.StartDate),
		DueDate:   formatTime(t.DueDate),
		AllDay:    t.AllDay,
	}
	if t.IsRecurring() {
		out.Recurrence = &Recurrence{
			Freq:       t.RecurFreq,
			Interval:   float64(t.RecurInterval),
			Until:      formatTime(t.RecurUntil),
			Exceptions: t.RecurExceptions,
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Project returns the occurrences of task overlapping window, evaluating
// all-day boundaries and exception dates in loc. A non-nil Exclusion means
// the task could not be projected at all.
func Project(task Task, window Window, loc *time.Location) ([]Occurrence, *Exclusion) {
	if loc == nil {
		loc = time.UTC
	}
	exclude := func(r Reason) ([]Occurrence, *Exclusion) {
		return nil, &Exclusion{TaskID: task.ID, Reason: r}
	}

	if strings.TrimSpace(task.ID) == "" {
		return exclude(ReasonMissingTaskID)
	}

	startAt, ok := parseInstant(task.StartDate, loc)
	if !ok {
		return exclude(ReasonInvalidStart)
	}
	dueAt, ok := parseInstant(task.DueDate, loc)
	if !ok {
		return exclude(ReasonInvalidDue)
	}

	var start time.Time
	switch {
	case startAt != nil:
		start = startAt.In(loc)
	case dueAt != nil:
		start = dueAt.In(loc)
	default:
		return exclude(ReasonMissingDates)
	}

	var end time.Time
	if task.AllDay {
		y, m, d := start.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	} else if dueAt != nil && dueAt.After(start) {
		end = dueAt.In(loc)
	} else {
		end = start.Add(time.Hour)
	}

	if task.Recurrence == nil {
		if !overlaps(start, end, window) {
			return nil, nil
		}
		return []Occurrence{{
			OccurrenceID: task.ID,
			TaskID:       task.ID,
			Start:        start,
			End:          end,
			AllDay:       task.AllDay,
		}}, nil
	}

	rule := task.Recurrence
	iv := rule.Interval
	if math.IsNaN(iv) || math.IsInf(iv, 0) || iv < 1 {
		return exclude(ReasonInvalidInterval)
	}
	interval := int(iv)

	var advance func(time.Time) time.Time
	switch strings.ToLower(strings.TrimSpace(rule.Freq)) {
	case model.FreqDaily:
		advance = func(t time.Time) time.Time { return t.AddDate(0, 0, interval) }
	case model.FreqWeekly:
		advance = func(t time.Time) time.Time { return t.AddDate(0, 0, 7*interval) }
	case model.FreqMonthly:
		advance = func(t time.Time) time.Time { return t.AddDate(0, interval, 0) }
	default:
		return exclude(ReasonInvalidFreq)
	}

	// An unparseable until is treated as open-ended; MaxOccurrences still bounds the work.
	until, _ := parseInstant(rule.Until, loc)

	skip := make(map[string]struct{}, len(rule.Exceptions))
	for _, d := range rule.Exceptions {
		skip[strings.TrimSpace(d)] = struct{}{}
	}

	// Month overflow can move the start past where the end would land, so each
	// instance's end is derived from its own start.
	span := end.Sub(start)
	var out []Occurrence
	cur, curEnd := start, end
	for i := 0; i < MaxOccurrences; i++ {
		if until != nil && cur.After(*until) {
			break
		}
		if !cur.Before(window.End) {
			break
		}
		localDate := cur.In(loc).Format(localDateLayout)
		if _, skipped := skip[localDate]; !skipped && overlaps(cur, curEnd, window) {
			out = append(out, Occurrence{
				OccurrenceID:      task.ID + "__" + cur.UTC().Format(isoLayout),
				TaskID:            task.ID,
				Start:             cur,
				End:               curEnd,
				AllDay:            task.AllDay,
				InstanceLocalDate: localDate,
			})
		}
		cur = advance(cur)
		if task.AllDay {
			curEnd = cur.AddDate(0, 0, 1)
		} else {
			curEnd = cur.Add(span)
		}
	}
	return out, nil
}

// ProjectAll projects every task and returns occurrences sorted by start.
func ProjectAll(tasks []Task, window Window, loc *time.Location) ([]Occurrence, []Exclusion) {
	var (
		occurrences []Occurrence
		exclusions  []Exclusion
	)
	for _, task := range tasks {
		occ, ex := Project(task, window, loc)
		if ex != nil {
			exclusions = append(exclusions, *ex)
			continue
		}
		occurrences = append(occurrences, occ...)
	}
	sort.SliceStable(occurrences, func(i, j int) bool {
		return occurrences[i].Start.Before(occurrences[j].Start)
	})
	return occurrences, exclusions
}

// overlaps is strict open-interval overlap of [start, end) with the window.
func overlaps(start, end time.Time, w Window) bool {
	return end.After(w.Start) && start.Before(w.End)
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	localDateLayout,
}

// parseInstant returns (nil, true) for an empty value and (nil, false) when
// the value is present but unparseable. Layouts without a zone are read in loc.
func parseInstant(raw string, loc *time.Location) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t, true
		}
	}
	return nil, false
}
