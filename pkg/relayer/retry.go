package relayer

import (
	"context"
	"math"
	"time"

	"github.com/unikron/relayer/pkg/metrics"
	"github.com/unikron/relayer/pkg/protocol"
)

// CalculateBackoff calculates the backoff duration for retry attempts
func CalculateBackoff(retryCount int) time.Duration {
	// Calculate exponential backoff (2^retry * 2 seconds)
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * 2 * time.Second

	// Intents are short-lived, so cap the backoff well under a
	// typical expiry window.
	maxBackoff := 30 * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// scheduleRetry queues a reveal request for another settlement attempt.
// increment is 0 for deferrals (circuit breaker open) and 1 for real
// failures, so deferrals never eat into the retry budget.
func (s *Service) scheduleRetry(req RevealRequest, increment int, errorType string) {
	key := protocol.Key{User: req.Intent.User, Nonce: req.Intent.Nonce}

	s.retryMu.Lock()
	count := s.retryCounts[key] + increment
	s.retryCounts[key] = count
	s.retryMu.Unlock()

	// An expired intent can never settle, drop it now.
	if time.Now().Unix() >= int64(req.Intent.Expiry) {
		s.logger.Info("Dropping retry for intent nonce=%d: expired (error: %s)", req.Intent.Nonce, errorType)
		metrics.DroppedRetries.WithLabelValues("expired").Inc()
		s.clearRetryCount(key)
		return
	}

	if s.config.MaxRetries > 0 && count >= s.config.MaxRetries {
		s.logger.Info("Max retries reached for intent nonce=%d, giving up (error: %s)", req.Intent.Nonce, errorType)
		metrics.DroppedRetries.WithLabelValues("max_retries").Inc()
		s.clearRetryCount(key)
		return
	}

	backoff := CalculateBackoff(count)
	job := RetryJob{
		Request:     req,
		RetryCount:  count,
		NextAttempt: time.Now().Add(backoff),
		ErrorType:   errorType,
	}

	s.logger.Info("Scheduling retry %d for intent nonce=%d in %v (error: %s)", count, req.Intent.Nonce, backoff, errorType)
	select {
	case s.retryJobs <- job:
		metrics.RetryQueueSize.Inc()
	default:
		s.logger.Error("Retry queue full, dropping intent nonce=%d", req.Intent.Nonce)
		metrics.DroppedRetries.WithLabelValues("queue_full").Inc()
		s.clearRetryCount(key)
	}
}

func (s *Service) clearRetryCount(key protocol.Key) {
	s.retryMu.Lock()
	delete(s.retryCounts, key)
	s.retryMu.Unlock()
}

// retryHandler collects scheduled retries and feeds them back into the
// worker queue once their backoff has elapsed.
func (s *Service) retryHandler(ctx context.Context) {
	s.logger.Info("Retry handler started")

	var pending []RetryJob
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry handler shutting down")
			return
		case job, ok := <-s.retryJobs:
			if !ok {
				s.logger.Info("Retry handler shutting down: channel closed")
				return
			}
			pending = append(pending, job)
		case <-ticker.C:
			pending = s.dispatchDue(pending)
		}
	}
}

// dispatchDue re-enqueues every due job and returns the still-waiting
// remainder.
func (s *Service) dispatchDue(pending []RetryJob) []RetryJob {
	now := time.Now()
	remaining := pending[:0]

	for _, job := range pending {
		if now.Before(job.NextAttempt) {
			remaining = append(remaining, job)
			continue
		}

		metrics.RetryQueueSize.Dec()
		// Add before the send: a worker may drain the job immediately.
		s.wg.Add(1)
		select {
		case s.pendingJobs <- job.Request:
			metrics.RetriesExecuted.WithLabelValues(job.ErrorType).Inc()
			s.logger.Debug("Dispatching retry %d for intent nonce=%d", job.RetryCount, job.Request.Intent.Nonce)
		default:
			// Worker queue full, push the attempt back a little.
			s.wg.Done()
			job.NextAttempt = now.Add(2 * time.Second)
			metrics.RetryQueueSize.Inc()
			remaining = append(remaining, job)
		}
	}

	return remaining
}
