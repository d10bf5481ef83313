package buffer

// Health classifies the buffer's condition from queue pressure and failure
// rates.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)

// Status is a point-in-time snapshot of the buffer.
type Status struct {
	PrimaryDepth    int    `json:"primary_depth"`
	PrimaryCapacity int    `json:"primary_capacity"`
	RetryDepth      int    `json:"retry_depth"`
	RetryCapacity   int    `json:"retry_capacity"`
	Enqueued        int64  `json:"enqueued"`
	Processed       int64  `json:"processed"`
	Failed          int64  `json:"failed"`
	Rejected        int64  `json:"rejected"`
	Evicted         int64  `json:"evicted"`
	DeadLettered    int64  `json:"dead_lettered"`
	Health          Health `json:"health"`
}

func classify(s Status) Health {
	primaryUse := float64(s.PrimaryDepth) / float64(s.PrimaryCapacity)

	attempts := s.Processed + s.Failed
	var failureRate float64
	if attempts > 0 {
		failureRate = float64(s.Failed) / float64(attempts)
	}
	var rejectRate float64
	if s.Enqueued > 0 {
		rejectRate = float64(s.Rejected) / float64(s.Enqueued)
	}

	switch {
	case primaryUse >= 0.9 || failureRate >= 0.5 || rejectRate >= 0.2:
		return HealthCritical
	case primaryUse >= 0.7 || failureRate >= 0.2 || rejectRate >= 0.05:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
