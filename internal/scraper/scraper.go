// Package scraper defines the contract with the external browser-automation
// collaborator: credentials, channel selections, scraped messages, and the
// downloadable artifact built from them.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Credentials identify a chat-server instance and an account on it. They are
// passed by value into each task and must never be persisted or logged
// verbatim.
type Credentials struct {
	URL      string
	Username string
	Password string
}

// Validate checks that every required field is present.
func (c Credentials) Validate() error {
	if c.URL == "" || c.Username == "" || c.Password == "" {
		return errors.New("url, username and password are required")
	}
	return nil
}

// Channel is a chat channel as discovered on the remote instance. ID is the
// opaque navigation target; Name is display-only and not unique.
type Channel struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Depth selects how far back a scrape reaches.
type Depth string

// Supported scrape depths.
const (
	DepthEntireHistory Depth = "entire_history"
	DepthThreeMonths   Depth = "3months"
)

// ParseDepth validates a wire-form depth value.
func ParseDepth(raw string) (Depth, error) {
	switch Depth(raw) {
	case DepthEntireHistory, DepthThreeMonths:
		return Depth(raw), nil
	default:
		return "", fmt.Errorf("unknown depth %q", raw)
	}
}

// MaxChannels returns the channel-count cap for the depth. Full-history
// scraping is far more expensive per channel, hence the tighter bound.
func (d Depth) MaxChannels() int {
	if d == DepthEntireHistory {
		return 1
	}
	return 3
}

// Cutoff returns the oldest message timestamp the depth still includes, or
// the zero time when the depth is unbounded.
func (d Depth) Cutoff(now time.Time) time.Time {
	if d == DepthThreeMonths {
		return now.AddDate(0, -3, 0)
	}
	return time.Time{}
}

// Selection is the set of channels to scrape plus the depth to scrape them at.
type Selection struct {
	Channels []Channel
	Depth    Depth
}

// Validate enforces the depth/channel-count invariant. It must be called
// before any task is created for the selection.
func (s Selection) Validate() error {
	if _, err := ParseDepth(string(s.Depth)); err != nil {
		return err
	}
	if len(s.Channels) == 0 {
		return errors.New("no channels selected")
	}
	if maxC := s.Depth.MaxChannels(); len(s.Channels) > maxC {
		return fmt.Errorf("depth %s allows at most %d channel(s), got %d", s.Depth, maxC, len(s.Channels))
	}
	return nil
}

// Message is one scraped chat message. Timestamp is nil when the raw
// timestamp text could not be parsed.
type Message struct {
	ID           string     `json:"id"`
	Sender       string     `json:"sender"`
	Text         string     `json:"text"`
	TimestampRaw string     `json:"timestamp_raw"`
	Timestamp    *time.Time `json:"timestamp_dt"`
}

// ChannelExport is the scraped history of one channel.
type ChannelExport struct {
	ChannelName string    `json:"channel_name"`
	Messages    []Message `json:"messages"`
}

// ProgressLevel classifies a progress notification from the scraper.
type ProgressLevel string

// Progress notification levels. They map one-to-one onto stream event types.
const (
	ProgressInfo    ProgressLevel = "info"
	ProgressWarn    ProgressLevel = "warn"
	ProgressDev     ProgressLevel = "dev"
	ProgressSuccess ProgressLevel = "success"
)

// ProgressFunc receives incremental narration while a scraper call runs. A
// nil ProgressFunc is valid and discards everything.
type ProgressFunc func(level ProgressLevel, message string)

// Notify invokes the callback if it is non-nil.
func (f ProgressFunc) Notify(level ProgressLevel, format string, args ...any) {
	if f == nil {
		return
	}
	f(level, fmt.Sprintf(format, args...))
}

// Scraper is the external browser-automation capability. Both operations are
// blocking, slow, and fallible; callers run them off the request path. Each
// invocation uses its own logical session against the remote instance, so
// implementations must be safe for concurrent calls.
type Scraper interface {
	// Enumerate logs in and lists the channels visible to the account.
	Enumerate(ctx context.Context, creds Credentials, progress ProgressFunc) ([]Channel, error)
	// ScrapeChannel logs in, opens the channel, and collects its message
	// history back to the depth cutoff.
	ScrapeChannel(ctx context.Context, creds Credentials, ch Channel, depth Depth, progress ProgressFunc) ([]Message, error)
}

// Artifact is a completed task's downloadable result.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BuildArtifact encodes the per-channel exports into the download document.
// The filename embeds a task id prefix so repeated exports stay distinct.
func BuildArtifact(taskID string, exports []ChannelExport) (Artifact, error) {
	data, err := json.MarshalIndent(exports, "", "    ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode artifact: %w", err)
	}
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return Artifact{
		Filename:    fmt.Sprintf("kumocrawler_scrape_%s.json", short),
		ContentType: "application/json",
		Data:        data,
	}, nil
}
