package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidJobID = errors.New("invalid job id")
	ErrWaitTimeout  = errors.New("timed out waiting for video")

	errStillProcessing = errors.New("video still processing")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidJobID reports whether id is safe to use as a cache key and URL part.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

type PollState string

const (
	PollProcessing PollState = "processing"
	PollNotFound   PollState = "not_found"
	PollReady      PollState = "ready"
)

type PollResult struct {
	State  PollState
	Video  []byte
	Cached bool
}

// ResultFetcher is satisfied by *Client.
type ResultFetcher interface {
	Result(ctx context.Context, id string) (*Result, error)
}

// VideoCache keeps finished videos keyed by job ID.
type VideoCache interface {
	LoadVideo(id string) ([]byte, bool, error)
	StoreVideo(id string, video []byte) error
}

const (
	missingCacheSize = 1024
	missingCacheTTL  = time.Minute
	// sharedFetchTimeout bounds an upstream fetch that no single caller owns.
	sharedFetchTimeout = 60 * time.Second
)

type Poller struct {
	fetcher ResultFetcher
	cache   VideoCache
	group   singleflight.Group
	// missing remembers recent upstream 404s so bad IDs do not hit the API.
	missing *expirable.LRU[string, struct{}]
}

func NewPoller(fetcher ResultFetcher, cache VideoCache) *Poller {
	return &Poller{
		fetcher: fetcher,
		cache:   cache,
		missing: expirable.NewLRU[string, struct{}](missingCacheSize, nil, missingCacheTTL),
	}
}

// Poll reports the state of a job once. Cached videos never reach upstream
// and concurrent polls for one ID share a single request. A caller that
// gives up only abandons its own wait; the shared request keeps running for
// the others.
func (p *Poller) Poll(ctx context.Context, id string) (*PollResult, error) {
	if !ValidJobID(id) {
		return nil, ErrInvalidJobID
	}

	video, ok, err := p.cache.LoadVideo(id)
	if err != nil {
		slog.Error("error reading cached video", "component", "generation", "video_id", id, "error", err)
	} else if ok {
		return &PollResult{State: PollReady, Video: video, Cached: true}, nil
	}

	if p.missing.Contains(id) {
		return &PollResult{State: PollNotFound}, nil
	}

	ch := p.group.DoChan(id, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return p.fetch(fetchCtx, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PollResult), nil
	}
}

func (p *Poller) fetch(ctx context.Context, id string) (*PollResult, error) {
	res, err := p.fetcher.Result(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		p.missing.Add(id, struct{}{})
		return &PollResult{State: PollNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if res.Status != StatusSucceeded {
		return &PollResult{State: PollProcessing}, nil
	}

	if err := p.cache.StoreVideo(id, res.Video); err != nil {
		slog.Error("error caching video", "component", "generation", "video_id", id, "error", err)
	} else {
		slog.Info("video cached", "component", "generation", "video_id", id, "bytes", len(res.Video))
	}
	return &PollResult{State: PollReady, Video: res.Video}, nil
}

type WaitOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{MaxAttempts: 30, Interval: 10 * time.Second}
}

// Wait polls until the video is ready, the job is unknown, upstream fails
// or MaxAttempts polls have come back still processing.
func (p *Poller) Wait(ctx context.Context, id string, opts WaitOptions) ([]byte, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultWaitOptions().MaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultWaitOptions().Interval
	}

	backoff := retry.WithMaxRetries(uint64(opts.MaxAttempts-1), retry.NewConstant(opts.Interval))

	attempt := 0
	var video []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := p.Poll(ctx, id)
		if err != nil {
			return err
		}

		switch res.State {
		case PollReady:
			video = res.Video
			return nil
		case PollNotFound:
			return ErrJobNotFound
		default:
			slog.Info("video not ready", "component", "generation", "video_id", id, "attempt", attempt, "max_attempts", opts.MaxAttempts)
			return retry.RetryableError(errStillProcessing)
		}
	})
	if errors.Is(err, errStillProcessing) {
		return nil, fmt.Errorf("%w after %d attempts", ErrWaitTimeout, attempt)
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}
