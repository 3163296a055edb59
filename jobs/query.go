package jobs

// Health is the summary served on the health endpoint.
type Health struct {
	Status         string `json:"status"`
	QueueSize      int    `json:"queue_size"`
	CurrentJob     *int64 `json:"current_job"`
	TotalCompleted uint64 `json:"total_completed"`
	TotalFailed    uint64 `json:"total_failed"`
	TotalAccepted  uint64 `json:"total_accepted"`
}

// List is the three-partition job listing.
type List struct {
	Current *Job  `json:"current"`
	Queued  []Job `json:"queued"`
	History []Job `json:"history"`
}

// Detail is a single job plus its pending position while queued.
type Detail struct {
	Job
	QueuePosition *int `json:"queue_position,omitempty"`
}

// Health projects the lifetime counters. TotalCompleted counts every job
// that reached a terminal state, including failures.
func (q *Queue) Health() Health {
	s := q.Stats()
	return Health{
		Status:         "ok",
		QueueSize:      s.Pending,
		CurrentJob:     s.CurrentID,
		TotalCompleted: s.Finished,
		TotalFailed:    s.Failed,
		TotalAccepted:  s.Accepted,
	}
}

// List projects a snapshot into the listing view.
func (q *Queue) List() List {
	s := q.Snapshot()
	return List{
		Current: s.Current,
		Queued:  s.Pending,
		History: s.History,
	}
}

// Detail returns one job, with its 1-based position when still pending.
func (q *Queue) Detail(id int64) (Detail, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i, j := range q.pending {
		if j.ID == id {
			pos := i + 1
			return Detail{Job: *j, QueuePosition: &pos}, nil
		}
	}
	j, ok := q.lookupLocked(id)
	if !ok {
		return Detail{}, ErrNotFound
	}
	return Detail{Job: *j}, nil
}
