package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRetryInterval is the pause between resend attempts.
const DefaultRetryInterval = 5 * time.Second

// Retrier sends outbound operations, retrying transient transport
// failures at a constant interval. Everything else is fatal: the API
// answered, so repeating the same request will not change the outcome.
type Retrier struct {
	interval time.Duration
	maxTries uint64 // 0 means retry until ctx is cancelled
	log      *zap.Logger
}

// NewRetrier builds a retrier. A non-positive interval falls back to
// DefaultRetryInterval; a non-positive maxAttempts retries without bound.
func NewRetrier(interval time.Duration, maxAttempts int, log *zap.Logger) *Retrier {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Retrier{interval: interval, log: log}
	if maxAttempts > 0 {
		r.maxTries = uint64(maxAttempts)
	}
	return r
}

// Do runs op until it succeeds, fails fatally, exhausts the attempt
// budget or ctx is cancelled. Each delivery carries a correlation id in
// its log entries so the attempts for one message can be traced together.
func (r *Retrier) Do(ctx context.Context, what string, op func() error) error {
	log := r.log.With(
		zap.String("delivery_id", uuid.NewString()),
		zap.String("what", what))

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			if attempt > 1 {
				log.Info("Delivery succeeded after retries", zap.Int("attempts", attempt))
			}
			return nil
		}
		if !Transient(err) {
			log.Error("Delivery failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return backoff.Permanent(err)
		}
		log.Warn("Transient delivery failure, will retry",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", r.interval),
			zap.Error(err))
		return err
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(r.interval)
	if r.maxTries > 0 {
		policy = backoff.WithMaxRetries(policy, r.maxTries-1)
	}

	err := backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("Delivery abandoned on shutdown", zap.Int("attempts", attempt))
	} else if Transient(err) {
		log.Error("Delivery gave up after retries",
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
	return err
}

// Transient reports whether err looks like a transport-level failure
// worth retrying: timeouts, connection drops, DNS trouble. API-level
// rejections are not transient, the request reached the server and was
// refused.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
