package app

import (
	"errors"
	"sync"

	"bodymonitor/internal/domain"
)

// NoticeKind classifies a user-visible notice.
type NoticeKind string

// Notice kinds.
const (
	NoticeRemoteFailure NoticeKind = "remote_failure"
	NoticeInvalidInput  NoticeKind = "invalid_input"
)

const remoteFailureMessage = "Something went wrong! Maybe you need to sign out and back in?"

// Notice is a blocking notification shown to the user once per failure.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Op      string     `json:"op,omitempty"`
	Message string     `json:"message"`
	Cause   error      `json:"-"`
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// NoticeFor builds the notice reported for err.
func NoticeFor(err error) Notice {
	var inv *domain.InvalidInputError
	if errors.As(err, &inv) {
		return Notice{Kind: NoticeInvalidInput, Message: inv.Error(), Cause: err}
	}
	n := Notice{Kind: NoticeRemoteFailure, Message: remoteFailureMessage, Cause: err}
	var re *RemoteError
	if errors.As(err, &re) {
		n.Op = re.Op
	}
	return n
}

// NoticeQueue buffers notices until the presentation layer drains them.
type NoticeQueue struct {
	mu    sync.Mutex
	items []Notice
}

// Notify appends n to the queue.
func (q *NoticeQueue) Notify(n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
}

// Drain returns the pending notices and empties the queue.
func (q *NoticeQueue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
