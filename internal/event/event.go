// Package event defines the progress events emitted by scrape and
// enumeration tasks.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/kumocrawler/kumocrawler/internal/scraper"
)

// Type denotes the kind of milestone represented by an Event.
type Type string

// Supported event types. The wire names match what the browser client
// switches on.
const (
	TypeInfo          Type = "info"
	TypeWarn          Type = "warn"
	TypeError         Type = "error"
	TypeSuccess       Type = "success"
	TypeDev           Type = "dev"
	TypeChannels      Type = "channels"
	TypeDownloadReady Type = "download_ready"
	TypeAllDone       Type = "all_done"
	TypeEndStream     Type = "end_stream"
)

// Event is a single immutable progress record. Exactly one payload field is
// populated, selected by Type: Channels for TypeChannels, TaskID for
// TypeDownloadReady and TypeAllDone, Message for everything else.
type Event struct {
	Type     Type
	Message  string
	Channels []scraper.Channel
	TaskID   string
}

// Info builds a human-readable progress line.
func Info(msg string) Event { return Event{Type: TypeInfo, Message: msg} }

// Warn builds a non-fatal problem report.
func Warn(msg string) Event { return Event{Type: TypeWarn, Message: msg} }

// Error builds a fatal problem report.
func Error(msg string) Event { return Event{Type: TypeError, Message: msg} }

// Success builds a milestone confirmation.
func Success(msg string) Event { return Event{Type: TypeSuccess, Message: msg} }

// Dev builds a low-level narration line the UI may hide.
func Dev(msg string) Event { return Event{Type: TypeDev, Message: msg} }

// ChannelList carries the channels discovered by an enumeration task. The
// list is copied and never nil; an account that sees zero channels still
// produces a channels event with an empty array on the wire.
func ChannelList(channels []scraper.Channel) Event {
	out := make([]scraper.Channel, len(channels))
	copy(out, channels)
	return Event{Type: TypeChannels, Channels: out}
}

// DownloadReady announces that the task's artifact can be fetched.
func DownloadReady(taskID string) Event {
	return Event{Type: TypeDownloadReady, TaskID: taskID}
}

// AllDone marks the end of useful work for a scrape task.
func AllDone(taskID string) Event {
	return Event{Type: TypeAllDone, TaskID: taskID}
}

// EndStream is the terminal event; nothing may follow it.
func EndStream(msg string) Event { return Event{Type: TypeEndStream, Message: msg} }

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == TypeEndStream
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	switch e.Type {
	case TypeInfo, TypeWarn, TypeError, TypeSuccess, TypeDev, TypeEndStream:
	case TypeChannels:
		if e.Channels == nil {
			return fmt.Errorf("channels event requires a channel list")
		}
	case TypeDownloadReady, TypeAllDone:
		if e.TaskID == "" {
			return fmt.Errorf("%s event requires a task id", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// wireEvent is the {type, content} shape the SSE stream carries. Content is a
// string for log lines, a channel list for channels events, and the task id
// for download_ready and all_done.
type wireEvent struct {
	Type    Type `json:"type"`
	Content any  `json:"content"`
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type}
	switch e.Type {
	case TypeChannels:
		w.Content = e.Channels
	case TypeDownloadReady, TypeAllDone:
		w.Content = e.TaskID
	default:
		w.Content = e.Message
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
