// Package enroll manages course enrollments and publishes the domain
// events downstream services consume.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"uniplex.org/internal/ids"
)

// EventKey is the routing key enrollment events carry on the stream.
const EventKey = "enrollment.created"

var (
	ErrNotFound     = errors.New("enroll: not found")
	ErrInvalidInput = errors.New("enroll: invalid input")
)

// Enrollment is one student-course registration.
type Enrollment struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	CourseID   string    `json:"courseId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// Event is the published wire shape. It matches Enrollment field for field;
// kept separate so the storage model can grow without changing the wire.
type Event struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	CourseID   string    `json:"courseId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// Store persists enrollments.
type Store interface {
	Create(ctx context.Context, e *Enrollment) error
	Find(ctx context.Context, id string) (*Enrollment, error)
	List(ctx context.Context) ([]Enrollment, error)
}

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, stream, key string, payload any) (string, error)
}

// Service creates enrollments and guarantees each one is announced on the
// event stream before the caller sees success.
type Service struct {
	store     Store
	publisher Publisher
	stream    string
	now       func() time.Time
}

func NewService(store Store, publisher Publisher, stream string) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		stream:    stream,
		now:       time.Now,
	}
}

// Create persists the enrollment and publishes enrollment.created. A failed
// publish fails the request: an enrollment nobody downstream hears about is
// worse than one the caller retries.
func (s *Service) Create(ctx context.Context, studentID, courseID string) (*Enrollment, error) {
	studentID = strings.TrimSpace(studentID)
	courseID = strings.TrimSpace(courseID)
	if studentID == "" || courseID == "" {
		return nil, fmt.Errorf("%w: studentId and courseId are required", ErrInvalidInput)
	}
	e := &Enrollment{
		ID:         ids.New(),
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	event := Event{ID: e.ID, StudentID: e.StudentID, CourseID: e.CourseID, EnrolledAt: e.EnrolledAt}
	if _, err := s.publisher.Publish(ctx, s.stream, EventKey, event); err != nil {
		return nil, fmt.Errorf("enrollment saved but event publish failed: %w", err)
	}
	return e, nil
}

func (s *Service) Find(ctx context.Context, id string) (*Enrollment, error) {
	return s.store.Find(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Enrollment, error) {
	return s.store.List(ctx)
}
