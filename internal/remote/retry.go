package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a RefClient with automatic retry of unary reads on
// transient errors. Streams and DeleteRefs are passed through: a stream may
// already have delivered chunks and a write is not repeated blindly.
type RetryClient struct {
	RefClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given RefClient.
func NewRetryClient(inner RefClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{RefClient: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Status == http.StatusNotImplemented {
			return false
		}
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Unary reads go through retry logic, everything else is delegated ---

func (rc *RetryClient) FindDefaultBranchName(ctx context.Context, req *FindDefaultBranchNameRequest) (resp *FindDefaultBranchNameResponse, err error) {
	err = rc.retry(ctx, "find default branch name", func() error {
		resp, err = rc.RefClient.FindDefaultBranchName(ctx, req)
		return err
	})
	return
}

func (rc *RetryClient) FindTag(ctx context.Context, req *FindTagRequest) (resp *FindTagResponse, err error) {
	err = rc.retry(ctx, "find tag", func() error {
		resp, err = rc.RefClient.FindTag(ctx, req)
		return err
	})
	return
}

func (rc *RetryClient) RefExists(ctx context.Context, req *RefExistsRequest) (resp *RefExistsResponse, err error) {
	err = rc.retry(ctx, "ref exists", func() error {
		resp, err = rc.RefClient.RefExists(ctx, req)
		return err
	})
	return
}

func (rc *RetryClient) FindBranch(ctx context.Context, req *FindBranchRequest) (resp *FindBranchResponse, err error) {
	err = rc.retry(ctx, "find branch", func() error {
		resp, err = rc.RefClient.FindBranch(ctx, req)
		return err
	})
	return
}

func (rc *RetryClient) GetRepoInfo(ctx context.Context) (info *RepoInfo, err error) {
	err = rc.retry(ctx, "get repo info", func() error {
		info, err = rc.RefClient.GetRepoInfo(ctx)
		return err
	})
	return
}
