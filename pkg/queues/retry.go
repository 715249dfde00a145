package queues

import "time"

// RetryPolicy defines retry behaviour for failed jobs.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns 3 retries with 1s initial backoff doubling to at most 5m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns the delay before retry number retryCount (1-based).
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// RetryDecision is the outcome of DecideRetry.
type RetryDecision struct {
	ShouldRetry     bool
	BackoffDuration time.Duration
	Reason          string
}

// DecideRetry decides what to do with a job that failed for the retryCount-th time.
func (p RetryPolicy) DecideRetry(err error, retryCount int) RetryDecision {
	if pe := Classify(err); pe != nil && !pe.IsRetryable() {
		return RetryDecision{Reason: "permanent error: " + pe.Code}
	}
	if retryCount > p.MaxRetries {
		return RetryDecision{Reason: "max retries exceeded"}
	}
	return RetryDecision{
		ShouldRetry:     true,
		BackoffDuration: p.CalculateBackoff(retryCount),
		Reason:          "transient error",
	}
}
