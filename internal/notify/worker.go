// Package notify consumes enrollment events and emails students.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uniplex.org/internal/bus"
	"uniplex.org/internal/obs"
)

// Event is the consumed wire shape of an enrollment announcement.
type Event struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	CourseID   string    `json:"courseId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// TimeoutPolicy decides what happens to a delivery whose email dispatch is
// still running when the deadline passes. The dispatch itself is not
// cancelled either way.
type TimeoutPolicy int

const (
	// AckOnTimeout logs a warning and acknowledges; a slow mail relay
	// does not block the queue or cause duplicate mails.
	AckOnTimeout TimeoutPolicy = iota
	// RequeueOnTimeout leaves the delivery pending for another attempt,
	// at the cost of possible duplicates.
	RequeueOnTimeout
)

// Worker turns enrollment.created events into notification emails.
type Worker struct {
	mailer  Mailer
	to      string
	timeout time.Duration
	policy  TimeoutPolicy
}

type WorkerOption func(*Worker)

// WithTimeout overrides the email dispatch deadline.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithTimeoutPolicy overrides the deadline behavior.
func WithTimeoutPolicy(p TimeoutPolicy) WorkerOption {
	return func(w *Worker) { w.policy = p }
}

// NewWorker builds a worker that mails to the given inbox.
func NewWorker(mailer Mailer, to string, opts ...WorkerOption) *Worker {
	w := &Worker{
		mailer:  mailer,
		to:      to,
		timeout: 5 * time.Second,
		policy:  AckOnTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle processes one delivery. A malformed payload is acknowledged and
// dropped; redelivering it can never succeed. A mailer failure is returned
// so the delivery stays pending and retries.
func (w *Worker) Handle(ctx context.Context, msg bus.Message) error {
	var evt Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		obs.Log(map[string]any{
			"level": "error",
			"msg":   "dropping malformed enrollment event",
			"entry": msg.ID,
			"error": err.Error(),
		})
		return nil
	}

	obs.Log(map[string]any{
		"level":      "info",
		"msg":        "enrollment event received",
		"enrollment": evt.ID,
		"student":    evt.StudentID,
		"course":     evt.CourseID,
	})

	subject := fmt.Sprintf("Enrollment confirmed: course %s", evt.CourseID)
	body := fmt.Sprintf(
		"Your enrollment has been registered.\n\nStudent: %s\nCourse: %s\nDate: %s\n",
		evt.StudentID, evt.CourseID, evt.EnrolledAt.UTC().Format(time.RFC3339))

	done := make(chan error, 1)
	go func() {
		done <- w.mailer.Send(w.to, subject, body)
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			obs.NotificationsFailed.Inc()
			return err
		}
		obs.NotificationsSent.Inc()
		obs.Log(map[string]any{
			"level":      "info",
			"msg":        "enrollment notification sent",
			"enrollment": evt.ID,
		})
		return nil
	case <-timer.C:
		obs.NotificationsTimedOut.Inc()
		obs.Log(map[string]any{
			"level":      "warn",
			"msg":        "notification dispatch timed out",
			"enrollment": evt.ID,
			"timeout":    w.timeout.String(),
		})
		if w.policy == RequeueOnTimeout {
			return fmt.Errorf("notify: dispatch timed out for enrollment %s", evt.ID)
		}
		return nil
	}
}
