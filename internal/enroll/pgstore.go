package enroll

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore implements Store over PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Create(ctx context.Context, e *Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into enrollments (id, student_id, course_id, enrolled_at)
		values ($1, $2, $3, $4)
	`, e.ID, e.StudentID, e.CourseID, e.EnrolledAt)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Enrollment, error) {
	var e Enrollment
	err := s.db.QueryRowContext(ctx, `
		select id, student_id, course_id, enrolled_at from enrollments where id = $1
	`, id).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.EnrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGStore) List(ctx context.Context) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, student_id, course_id, enrolled_at from enrollments order by enrolled_at desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.CourseID, &e.EnrolledAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
