package mailer

import (
	"context"
	"sync"
	"time"
)

// Message is a captured email
type Message struct {
	To   string
	Kind string // "otp" or "reset"
	Code string
}

// Recorder is a Sender that keeps messages in memory, for tests and local tooling
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (r *Recorder) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	return r.record(Message{To: to, Kind: "otp", Code: code})
}

func (r *Recorder) SendPasswordReset(_ context.Context, to, token string, _ time.Time) error {
	return r.record(Message{To: to, Kind: "reset", Code: token})
}

func (r *Recorder) record(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, m)
	return nil
}

// Last returns the most recent message
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}
