package queue

import "time"

// Item is one queued job.
type Item struct {
	JobID     string
	StartURL  string
	Priority  int
	Timestamp time.Time

	seq uint64
}
