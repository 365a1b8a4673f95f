// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"sync"
)

var errFake = errors.New("fake failure")

// fakeSuggester returns canned suggestions and records calls.
type fakeSuggester struct {
	mu           sync.Mutex
	rewrite      string
	rewriteErr   error
	candidates   []CaptionCandidate
	captionErr   error
	rewriteCalls []RewriteRequest
	captionCalls int
}

func (f *fakeSuggester) RewriteText(_ context.Context, req RewriteRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewriteCalls = append(f.rewriteCalls, req)
	return f.rewrite, f.rewriteErr
}

func (f *fakeSuggester) SuggestCaptions(_ context.Context, _ CaptionRequest) ([]CaptionCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captionCalls++
	return f.candidates, f.captionErr
}

type sentMessage struct {
	Channel string
	Text    string
	File    *File
}

// fakeMessenger records sends and fails for configured channels.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
	panicOn map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{failFor: map[string]bool{}, panicOn: map[string]bool{}}
}

func (f *fakeMessenger) SendText(_ context.Context, channel, text string) error {
	return f.record(sentMessage{Channel: channel, Text: text})
}

func (f *fakeMessenger) SendFile(_ context.Context, channel string, file *File, caption string) error {
	return f.record(sentMessage{Channel: channel, Text: caption, File: file})
}

func (f *fakeMessenger) record(msg sentMessage) error {
	f.mu.Lock()
	fail, boom := f.failFor[msg.Channel], f.panicOn[msg.Channel]
	f.mu.Unlock()
	if boom {
		panic("send exploded")
	}
	if fail {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMessenger) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeMessenger) SentTo(channel string) []sentMessage {
	var out []sentMessage
	for _, m := range f.Sent() {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// fakeStamper counts calls and marks images it stamped.
type fakeStamper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStamper) Stamp(image []byte, opts WatermarkOptions) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !opts.Enabled {
		return image
	}
	return append([]byte("stamped:"), image...)
}

func (f *fakeStamper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStats records stats rows.
type fakeStats struct {
	mu   sync.Mutex
	rows []StatRecord
	err  error
}

func (f *fakeStats) Record(_ context.Context, rec StatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeStats) Rows() []StatRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]StatRecord, len(f.rows))
	copy(cp, f.rows)
	return cp
}

// fakeOperator records caption prompts.
type fakeOperator struct {
	mu      sync.Mutex
	prompts []*PendingPost
	err     error
}

func (f *fakeOperator) RequestCaptionChoice(_ context.Context, post *PendingPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.prompts = append(f.prompts, post)
	return nil
}

func (f *fakeOperator) Prompts() []*PendingPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]*PendingPost, len(f.prompts))
	copy(cp, f.prompts)
	return cp
}
