package main

import (
	"errors"
	"testing"
)

func TestWorkerID(t *testing.T) {
	tests := []struct {
		name     string
		hostname func() (string, error)
		want     string
	}{
		{"hostname", func() (string, error) { return "node-1", nil }, "node-1"},
		{"empty", func() (string, error) { return "", nil }, "reminderd"},
		{"error", func() (string, error) { return "", errors.New("no uts") }, "reminderd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := workerID(tt.hostname); got != tt.want {
				t.Errorf("workerID() = %q, want %q", got, tt.want)
			}
		})
	}
}
