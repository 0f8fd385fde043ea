package service

import (
	"context"
	"time"

	"taskminder/internal/model"
	"taskminder/internal/projection"
)

type TaskLister interface {
	ListByOwner(ctx context.Context, ownerID string, workspaceID *string) ([]model.Task, error)
}

// CalendarService materializes a user's stored tasks into occurrences.
type CalendarService struct {
	tasks TaskLister
}

func NewCalendarService(tasks TaskLister) *CalendarService {
	return &CalendarService{tasks: tasks}
}

// Occurrences projects every task of ownerID (optionally one workspace)
// into window, evaluated in loc.
func (s *CalendarService) Occurrences(ctx context.Context, ownerID string, workspaceID *string, window projection.Window, loc *time.Location) ([]projection.Occurrence, []projection.Exclusion, error) {
	tasks, err := s.tasks.ListByOwner(ctx, ownerID, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	raw := make([]projection.Task, 0, len(tasks))
	for _, t := range tasks {
		raw = append(raw, projection.FromModel(t))
	}
	occurrences, exclusions := projection.ProjectAll(raw, window, loc)
	return occurrences, exclusions, nil
}
