package wait

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/dbkick/internal/common"
	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/httpc"
	"github.com/loykin/dbkick/internal/util"
)

// HTTPConfig describes an HTTP dependency polled before the run starts.
type HTTPConfig struct {
	URL string
	// Method is GET or HEAD; anything else falls back to GET.
	Method   string
	Status   int
	Timeout  time.Duration
	Interval time.Duration
	Client   httpc.Options
}

// params holds the normalized polling parameters
type params struct {
	url      string
	method   string
	expected int
	timeout  time.Duration
	interval time.Duration
}

func normalize(c HTTPConfig) params {
	p := params{
		url:      strings.TrimSpace(c.URL),
		method:   strings.ToUpper(util.TrimWithDefault(c.Method, constants.DefaultWaitMethod)),
		expected: c.Status,
		timeout:  c.Timeout,
		interval: c.Interval,
	}
	if p.expected == 0 {
		p.expected = constants.DefaultWaitStatus
	}
	if p.timeout <= 0 {
		p.timeout = constants.DefaultWaitTimeout
	}
	if p.interval <= 0 {
		p.interval = constants.DefaultWaitInterval
	}
	return p
}

// HTTP polls c.URL until it answers with the expected status or the timeout
// elapses. An empty URL returns immediately.
func HTTP(ctx context.Context, c HTTPConfig, logger *common.Logger) error {
	p := normalize(c)
	if p.url == "" {
		return nil
	}
	log := common.OrNop(logger).WithComponent("wait")
	client, err := httpc.New(c.Client)
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var lastStatus int
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastStatus, lastErr = probe(ctx, client, p.method, p.url)
		if lastErr == nil && lastStatus == p.expected {
			log.Info("dependency is ready", "url", p.url, "attempts", attempt)
			return nil
		}
		log.Debug("dependency not ready", "url", p.url, "status", lastStatus, "error", lastErr)

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("wait: timeout waiting for %s to return %d: %w", p.url, p.expected, lastErr)
			}
			return fmt.Errorf("wait: timeout waiting for %s to return %d (last=%d)", p.url, p.expected, lastStatus)
		case <-time.After(p.interval):
		}
	}
}

func probe(ctx context.Context, client *resty.Client, method, url string) (int, error) {
	req := client.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodHead:
		resp, err = req.Head(url)
	default:
		resp, err = req.Get(url)
	}
	if resp != nil {
		return resp.StatusCode(), err
	}
	return 0, err
}

// Pinger is anything whose connection can be checked. *database.Gateway
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database pings p until it answers or timeout elapses. A zero timeout pings
// exactly once.
func Database(ctx context.Context, p Pinger, timeout, interval time.Duration, logger *common.Logger) error {
	log := common.OrNop(logger).WithComponent("wait")
	if timeout <= 0 {
		return p.Ping(ctx)
	}
	if interval <= 0 {
		interval = constants.DefaultWaitInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := p.Ping(ctx)
		if err == nil {
			log.Info("database is ready", "attempts", attempt)
			return nil
		}
		log.Debug("database not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: database not ready after %s: %w", timeout, err)
		case <-time.After(interval):
		}
	}
}
