// Package preflight performs a cheap reachability probe of the chat server's
// login page before a browser session is spent on it.
package preflight

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Prober fetches the login page with a plain HTTP client. Bad URLs and
// unreachable hosts fail here in milliseconds instead of after a headless
// Chrome launch.
type Prober struct {
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger
}

// New constructs a Prober.
func New(userAgent string, timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
}

// Check validates the URL shape and fetches it once. A non-success response
// or transport failure is returned as a descriptive error.
func (p *Prober) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid chat server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("chat server url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("chat server url is missing a host")
	}

	c := colly.NewCollector(colly.UserAgent(p.userAgent))
	c.SetRequestTimeout(p.timeout)

	var status int
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})

	start := time.Now()
	if err := c.Visit(rawURL); err != nil {
		return fmt.Errorf("chat server unreachable: %w", err)
	}
	c.Wait()

	p.logger.Debug("preflight probe succeeded",
		zap.String("host", parsed.Host),
		zap.Int("status", status),
		zap.Duration("dur", time.Since(start)),
	)
	return nil
}
