package entity

import "time"

// Subject is the unit of work an approval record is attached to
type Subject struct {
	ID        string    `json:"subject_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
