package domain

import "time"

type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRetrying  JobState = "retrying"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// OrderJob is the payload handed from admission to processing.
type OrderJob struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Username  string `json:"username"`
}

type Job struct {
	ID           string
	Payload      OrderJob
	Attempts     int
	AttemptsMade int
	BackoffBase  time.Duration
	State        JobState
	NextAt       time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settle records the outcome of one delivery and moves the job to its
// next state. The returned state is also stored on the job.
func (j *Job) Settle(err error, now time.Time) JobState {
	j.AttemptsMade++
	j.UpdatedAt = now
	switch {
	case err == nil:
		j.State = JobStateSucceeded
		j.LastError = ""
	case !IsRetryable(err) || j.AttemptsMade >= j.Attempts:
		j.State = JobStateFailed
		j.LastError = err.Error()
	default:
		j.State = JobStateRetrying
		j.LastError = err.Error()
		j.NextAt = now.Add(Backoff(j.BackoffBase, j.AttemptsMade))
	}
	return j.State
}

// Backoff is the exponential delay after the given number of failed
// attempts: base, 2*base, 4*base, ...
func Backoff(base time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return base << (attemptsMade - 1)
}
