package service

import (
	"context"
	"sync"
)

type fakePush struct {
	mu      sync.Mutex
	results map[string]error
	block   map[string]bool
	calls   []string
	byRem   map[string]int
}

func newFakePush() *fakePush {
	return &fakePush{results: map[string]error{}, block: map[string]bool{}, byRem: map[string]int{}}
}

func (f *fakePush) SendPush(ctx context.Context, token string, msg PushMessage) error {
	f.mu.Lock()
	f.calls = append(f.calls, token)
	f.byRem[msg.Data["reminderId"]]++
	err := f.results[token]
	block := f.block[token]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakePush) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePush) sendsFor(reminderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byRem[reminderID]
}

type sentEmail struct {
	to, subject, html string
}

type fakeEmail struct {
	mu   sync.Mutex
	err  error
	sent []sentEmail
}

func (f *fakeEmail) SendEmail(_ context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, html: htmlBody})
	return f.err
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePruner struct {
	mu     sync.Mutex
	err    error
	pruned []string
}

func (f *fakePruner) PrunePushTokens(_ context.Context, _ string, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, tokens...)
	return f.err
}
