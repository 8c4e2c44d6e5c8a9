// Package headless implements the scraper contract with chromedp and a
// headless Chrome, driving a Rocket.Chat style web client the way a human
// would: log in, read the sidebar, scroll message history.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/scraper"
	"github.com/kumocrawler/kumocrawler/internal/scraper/preflight"
)

// Selectors for the remote web client. Verified against the current
// Rocket.Chat DOM; these are the most likely thing to break on an upgrade.
const (
	selUsernameField = `input[name="usernameOrEmail"]`
	selPasswordField = `input[name="password"]`
	selLoginButton   = `button[type="submit"]`
	selChannelItem   = `a.rcx-sidebar-item`
)

// Config controls the behavior of the headless scraper.
type Config struct {
	// Headless toggles the visible-browser debug mode off.
	Headless bool
	// MaxParallel bounds concurrent browser contexts; 0 means unbounded.
	MaxParallel int
	UserAgent   string
	// NavTimeout bounds a single page navigation.
	NavTimeout time.Duration
	// LoginTimeout bounds the wait for a login outcome after submit.
	LoginTimeout time.Duration
	// ScrollPause is the wait between history scroll passes, giving the
	// client time to lazy-load older messages.
	ScrollPause time.Duration
}

// Scraper implements scraper.Scraper using chromedp. One exec allocator is
// shared by all tasks; every invocation gets its own browser context and
// therefore its own logical session against the remote instance.
type Scraper struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	prober      *preflight.Prober
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a headless scraper backed by chromedp.
func New(cfg Config, prober *preflight.Prober, logger *zap.Logger) (*Scraper, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 45 * time.Second
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Scraper{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		prober:      prober,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Close cancels the allocator context, tearing down the browser.
func (s *Scraper) Close() {
	s.allocCancel()
}

// Enumerate logs in and lists the channels visible in the sidebar.
func (s *Scraper) Enumerate(
	ctx context.Context,
	creds scraper.Credentials,
	progress scraper.ProgressFunc,
) ([]scraper.Channel, error) {
	taskCtx, cancel, err := s.session(ctx, creds, progress)
	if err != nil {
		return nil, err
	}
	defer cancel()

	progress.Notify(scraper.ProgressInfo, "Enumerating channels...")
	waitCtx, waitCancel := context.WithTimeout(taskCtx, s.cfg.NavTimeout)
	defer waitCancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selChannelItem, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("channel list did not appear: %w", err)
	}

	var (
		raws []rawChannel
		loc  string
	)
	if err := chromedp.Run(taskCtx,
		chromedp.Location(&loc),
		chromedp.Evaluate(channelListJS, &raws),
	); err != nil {
		return nil, fmt.Errorf("extract channel list: %w", err)
	}

	base := baseURL(loc, creds.URL)
	channels := make([]scraper.Channel, 0, len(raws))
	for _, raw := range raws {
		if raw.Name == "" || raw.Href == "" {
			progress.Notify(scraper.ProgressWarn, "Channel element found, but missing name or href.")
			continue
		}
		ch := scraper.Channel{Name: raw.Name, ID: absoluteChannelID(base, raw.Href)}
		channels = append(channels, ch)
		progress.Notify(scraper.ProgressDev, "Found channel: %s (%s)", ch.Name, ch.ID)
	}
	if len(channels) == 0 {
		progress.Notify(scraper.ProgressWarn, "Could not find any channels. (Check that channels are visible to this account)")
	}
	return channels, nil
}

// session runs the preflight probe, acquires a browser slot, opens a fresh
// browser context, and logs in. The returned cancel releases everything.
func (s *Scraper) session(
	ctx context.Context,
	creds scraper.Credentials,
	progress scraper.ProgressFunc,
) (context.Context, context.CancelFunc, error) {
	if s.prober != nil {
		progress.Notify(scraper.ProgressDev, "Probing %s before launching browser...", creds.URL)
		if err := s.prober.Check(creds.URL); err != nil {
			return nil, nil, err
		}
	}

	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}

	progress.Notify(scraper.ProgressDev, "Creating new browser context...")
	taskCtx, taskCancel := chromedp.NewContext(s.allocator)

	// Tear the browser context down if the caller gives up on the task.
	stop := context.AfterFunc(ctx, taskCancel)

	cancel := func() {
		stop()
		taskCancel()
		s.release()
	}

	if err := s.login(taskCtx, creds, progress); err != nil {
		cancel()
		return nil, nil, err
	}
	return taskCtx, cancel, nil
}

func (s *Scraper) login(ctx context.Context, creds scraper.Credentials, progress scraper.ProgressFunc) error {
	progress.Notify(scraper.ProgressInfo, "Navigating to %s...", creds.URL)
	navCtx, navCancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		s.networkSetup(),
		chromedp.Navigate(creds.URL),
		chromedp.WaitVisible(selUsernameField, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	progress.Notify(scraper.ProgressDev, "Filling login form for %s...", creds.Username)
	if err := chromedp.Run(navCtx,
		chromedp.SendKeys(selUsernameField, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(selPasswordField, creds.Password, chromedp.ByQuery),
		chromedp.Click(selLoginButton, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	progress.Notify(scraper.ProgressDev, "Waiting for login outcome...")
	outcome, err := s.awaitLoginOutcome(ctx)
	if err != nil {
		return err
	}
	if outcome.ErrorText != "" {
		return fmt.Errorf("login failed: %s", outcome.ErrorText)
	}
	progress.Notify(scraper.ProgressSuccess, "Login successful.")
	return nil
}

// awaitLoginOutcome polls the page for either the sidebar (success) or an
// error toast until the login timeout elapses.
func (s *Scraper) awaitLoginOutcome(ctx context.Context) (loginOutcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LoginTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var outcome loginOutcome
		if err := chromedp.Run(waitCtx, chromedp.Evaluate(loginOutcomeJS, &outcome)); err != nil {
			return loginOutcome{}, fmt.Errorf("probe login outcome: %w", err)
		}
		if outcome.Success || outcome.ErrorText != "" {
			return outcome, nil
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return loginOutcome{}, fmt.Errorf("login timed out: could not confirm success or failure")
		}
	}
}

// networkSetup enables the network domain and pins the user agent at the
// protocol level. The allocator flag only covers headless mode; this also
// holds in the visible-browser debug mode.
func (s *Scraper) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
		return nil
	})
}

func (s *Scraper) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (s *Scraper) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

type rawChannel struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

type loginOutcome struct {
	Success   bool   `json:"success"`
	ErrorText string `json:"errorText"`
}
