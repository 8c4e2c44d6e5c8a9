package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/kumocrawler/kumocrawler/internal/scraper"
)

const (
	selMessagesBox = `.messages-box .rc-scrollbars-view`
	selMessageItem = `div.rcx-message[role="listitem"]`

	// Give up after this many scroll passes yield nothing new; the channel
	// top has been reached or the client stopped loading.
	maxStalePasses = 3
)

// ScrapeChannel logs in, opens the channel, and scrolls the message history
// upward until the depth cutoff or the top of the channel.
func (s *Scraper) ScrapeChannel(
	ctx context.Context,
	creds scraper.Credentials,
	ch scraper.Channel,
	depth scraper.Depth,
	progress scraper.ProgressFunc,
) ([]scraper.Message, error) {
	taskCtx, cancel, err := s.session(ctx, creds, progress)
	if err != nil {
		return nil, err
	}
	defer cancel()

	progress.Notify(scraper.ProgressInfo, "Opening channel %s...", ch.Name)
	navCtx, navCancel := context.WithTimeout(taskCtx, s.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(ch.ID),
		chromedp.WaitVisible(selMessagesBox, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("open channel %s: %w", ch.Name, err)
	}

	return s.collectHistory(taskCtx, ch, depth, progress)
}

func (s *Scraper) collectHistory(
	ctx context.Context,
	ch scraper.Channel,
	depth scraper.Depth,
	progress scraper.ProgressFunc,
) ([]scraper.Message, error) {
	col := newCollector(depth.Cutoff(s.now()))
	stalePasses := 0

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scrape canceled: %w", err)
		}

		var raws []rawMessage
		if err := chromedp.Run(ctx, chromedp.Evaluate(messageListJS, &raws)); err != nil {
			return nil, fmt.Errorf("extract messages: %w", err)
		}

		added, pastCutoff := col.addPass(raws, progress)
		if added > 0 {
			progress.Notify(scraper.ProgressInfo,
				"Fetched page %d of channel %s: %d new message(s), %d total.",
				pass, ch.Name, added, len(col.messages))
			stalePasses = 0
		} else {
			stalePasses++
			progress.Notify(scraper.ProgressDev,
				"No new messages on pass %d (%d/%d stale passes).", pass, stalePasses, maxStalePasses)
		}

		if pastCutoff {
			progress.Notify(scraper.ProgressInfo, "Reached 3-month depth limit. Stopping scroll.")
			break
		}
		if stalePasses >= maxStalePasses {
			progress.Notify(scraper.ProgressInfo, "Likely at the top of the channel history. Stopping scroll.")
			break
		}

		progress.Notify(scraper.ProgressDev, "Scrolling up in %s...", ch.Name)
		if err := chromedp.Run(ctx, chromedp.Evaluate(scrollToTopJS, nil)); err != nil {
			return nil, fmt.Errorf("scroll history: %w", err)
		}
		select {
		case <-time.After(s.cfg.ScrollPause):
		case <-ctx.Done():
			return nil, fmt.Errorf("scrape canceled: %w", ctx.Err())
		}
	}

	return col.messages, nil
}

// collector de-duplicates messages across scroll passes and tracks the depth
// cutoff. The DOM shows newest messages last; each pass is walked in reverse
// so older messages are appended as the scroll reaches them.
type collector struct {
	seen     map[string]struct{}
	messages []scraper.Message
	cutoff   time.Time
}

func newCollector(cutoff time.Time) *collector {
	return &collector{
		seen:   make(map[string]struct{}),
		cutoff: cutoff,
	}
}

// addPass folds one extraction pass into the collection. It returns the
// number of new messages and whether a parsed timestamp crossed the cutoff.
func (c *collector) addPass(raws []rawMessage, progress scraper.ProgressFunc) (added int, pastCutoff bool) {
	for i := len(raws) - 1; i >= 0; i-- {
		raw := raws[i]
		if raw.ID == "" {
			continue
		}
		if _, ok := c.seen[raw.ID]; ok {
			continue
		}
		c.seen[raw.ID] = struct{}{}

		ts := parseTimestamp(raw.Title)
		if ts == nil && raw.Title != "" {
			progress.Notify(scraper.ProgressDev,
				"Could not parse timestamp %q with known formats. Storing as text.", raw.Title)
		}
		c.messages = append(c.messages, scraper.Message{
			ID:           raw.ID,
			Sender:       raw.Sender,
			Text:         raw.Text,
			TimestampRaw: raw.Title,
			Timestamp:    ts,
		})
		added++

		if !c.cutoff.IsZero() && ts != nil && ts.Before(c.cutoff) {
			return added, true
		}
	}
	return added, false
}

type rawMessage struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Title  string `json:"title"`
}
