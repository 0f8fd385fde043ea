package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	zlog "taskminder/internal/logger"
)

// SchedulerService wraps cron-based jobs. Jobs may overlap: a slow tick does
// not delay the next one.
type SchedulerService struct {
	cron *cron.Cron
}

func NewSchedulerService(loc *time.Location, log zerolog.Logger) *SchedulerService {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zlog.Printf{Log: log.With().Str("comp", "cron").Logger()}))),
		),
	}
}

// Schedule registers a job from a cron spec, a descriptor such as
// "@every 1m", or a daily "HH:MM" time.
func (s *SchedulerService) Schedule(spec string, job func()) (cron.EntryID, error) {
	spec = strings.TrimSpace(spec)
	if isHHMM(spec) {
		daily, err := buildDailySpec(spec)
		if err != nil {
			return 0, err
		}
		spec = daily
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return id, nil
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func isHHMM(spec string) bool {
	parts := strings.Split(spec, ":")
	return len(parts) == 2 && !strings.ContainsAny(spec, " @*")
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
