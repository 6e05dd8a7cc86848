package model

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusNotFound is synthetic: it is returned for unknown ids and never stored.
	StatusNotFound Status = "not_found"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ScanStatus struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func NotFoundStatus(now int64) ScanStatus {
	return ScanStatus{Status: StatusNotFound, Message: "Scan not found", Timestamp: now}
}
