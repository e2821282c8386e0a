package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const retryBaseDelay = 300 * time.Millisecond

type retrying struct {
	base   Provider
	delay  time.Duration
	logger *zap.Logger
}

// Retrying wraps base so that one transient failure is retried once after a
// short delay.
func Retrying(base Provider, logger *zap.Logger) Provider {
	if base == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrying{base: base, delay: retryBaseDelay, logger: logger}
}

func (r *retrying) Name() string     { return r.base.Name() }
func (r *retrying) Model() string    { return r.base.Model() }
func (r *retrying) Configured() bool { return r.base.Configured() }

func (r *retrying) Generate(ctx context.Context, p Prompt) (string, error) {
	out, err := r.base.Generate(ctx, p)
	if err == nil || !ShouldRetry(err) || ctx.Err() != nil {
		return out, err
	}
	r.logger.Warn("llm retry",
		zap.String("provider", r.base.Name()),
		zap.Int("attempt", 1),
		zap.Error(err),
	)
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return r.base.Generate(ctx, p)
}

// ShouldRetry reports whether err looks transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.EPIPE,
		io.ErrUnexpectedEOF,
		io.EOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
