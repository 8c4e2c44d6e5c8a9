package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kumocrawler/kumocrawler/internal/event"
	"github.com/kumocrawler/kumocrawler/internal/registry"
	"github.com/kumocrawler/kumocrawler/internal/scraper"
)

type seqIDGen struct {
	n atomic.Int64
}

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("task-%d", g.n.Add(1)), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

// stubScraper scripts Enumerate and ScrapeChannel outcomes per test.
type stubScraper struct {
	channels    []scraper.Channel
	enumErr     error
	messages    map[string][]scraper.Message
	scrapeErr   map[string]error
	scrapePanic map[string]string
	panicMsg    string
}

func (s *stubScraper) Enumerate(_ context.Context, _ scraper.Credentials, progress scraper.ProgressFunc) ([]scraper.Channel, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.enumErr != nil {
		return nil, s.enumErr
	}
	progress.Notify(scraper.ProgressSuccess, "Login successful.")
	return s.channels, nil
}

func (s *stubScraper) ScrapeChannel(_ context.Context, _ scraper.Credentials, ch scraper.Channel, _ scraper.Depth, progress scraper.ProgressFunc) ([]scraper.Message, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if msg := s.scrapePanic[ch.Name]; msg != "" {
		panic(msg)
	}
	if err := s.scrapeErr[ch.Name]; err != nil {
		return nil, err
	}
	progress.Notify(scraper.ProgressInfo, "Opening channel %s...", ch.Name)
	return s.messages[ch.Name], nil
}

var testCreds = scraper.Credentials{URL: "https://chat.example.com", Username: "u", Password: "p"}

func newHarness(scr scraper.Scraper) (*registry.Registry, *Runner) {
	reg := registry.New(&seqIDGen{}, fixedClock{}, nil)
	return reg, New(reg, scr, time.Minute, nil)
}

// drain subscribes to the task's stream and returns all events once the
// terminal event closes it.
func drain(t *testing.T, reg *registry.Registry, taskID string) []event.Event {
	t.Helper()
	log, err := reg.Channel(taskID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []event.Event
	for evt := range log.Subscribe(ctx) {
		got = append(got, evt)
	}
	require.NoError(t, ctx.Err(), "stream never reached a terminal event")
	return got
}

func typesOf(events []event.Event) []event.Type {
	out := make([]event.Type, len(events))
	for i, evt := range events {
		out[i] = evt.Type
	}
	return out
}

func TestRunEnumerate_Success(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{channels: []scraper.Channel{
		{Name: "general", ID: "https://chat.example.com/channel/general"},
		{Name: "random", ID: "https://chat.example.com/channel/random"},
	}}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindEnumerate)
	require.NoError(t, err)
	require.NoError(t, run.RunEnumerate(task.ID, testCreds))

	got := drain(t, reg, task.ID)
	require.Equal(t, []event.Type{
		event.TypeSuccess,
		event.TypeInfo,
		event.TypeChannels,
		event.TypeEndStream,
	}, typesOf(got))
	require.Equal(t, "Successfully enumerated 2 channels.", got[1].Message)
	require.Equal(t, scr.channels, got[2].Channels)
	require.Equal(t, "Enumeration complete.", got[3].Message)

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusCompleted, final.Status)

	// Enumeration never produces a download.
	_, err = reg.Artifact(task.ID)
	require.ErrorIs(t, err, registry.ErrNotReady)
}

func TestRunEnumerate_ZeroChannelsStillEmitsList(t *testing.T) {
	t.Parallel()

	reg, run := newHarness(&stubScraper{channels: nil})
	task, err := reg.Create(registry.KindEnumerate)
	require.NoError(t, err)
	require.NoError(t, run.RunEnumerate(task.ID, testCreds))

	got := drain(t, reg, task.ID)
	require.Equal(t, []event.Type{
		event.TypeSuccess,
		event.TypeInfo,
		event.TypeChannels,
		event.TypeEndStream,
	}, typesOf(got))
	require.Equal(t, "Successfully enumerated 0 channels.", got[1].Message)
	require.NotNil(t, got[2].Channels)
	require.Empty(t, got[2].Channels)

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusCompleted, final.Status)
}

func TestRunEnumerate_LoginFailure(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{enumErr: errors.New("login failed: Invalid credentials")}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindEnumerate)
	require.NoError(t, err)
	require.NoError(t, run.RunEnumerate(task.ID, testCreds))

	got := drain(t, reg, task.ID)
	require.Equal(t, []event.Type{event.TypeError, event.TypeEndStream}, typesOf(got))
	require.Contains(t, got[0].Message, "login failed: Invalid credentials")
	require.Equal(t, "Process failed.", got[1].Message)

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFailed, final.Status)
	_, err = reg.Artifact(task.ID)
	require.ErrorIs(t, err, registry.ErrNotReady)
}

func TestRunScrape_Success(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{messages: map[string][]scraper.Message{
		"general": {{ID: "m1", Sender: "alice", Text: "hi"}},
	}}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{{Name: "general", ID: "https://chat.example.com/channel/general"}},
		Depth:    scraper.DepthEntireHistory,
	}
	require.NoError(t, run.RunScrape(task.ID, testCreds, sel))

	got := drain(t, reg, task.ID)
	types := typesOf(got)

	// download_ready precedes all_done, which precedes the terminal event.
	require.Equal(t, []event.Type{
		event.TypeDownloadReady,
		event.TypeAllDone,
		event.TypeEndStream,
	}, types[len(types)-3:])
	require.Equal(t, task.ID, got[len(got)-3].TaskID)
	require.Equal(t, task.ID, got[len(got)-2].TaskID)
	require.Equal(t, "All scraping tasks finished.", got[len(got)-1].Message)

	artifact, err := reg.Artifact(task.ID)
	require.NoError(t, err)
	require.Equal(t, "kumocrawler_scrape_task-1.json", artifact.Filename)
	require.Contains(t, string(artifact.Data), `"channel_name": "general"`)
}

func TestRunScrape_PartialFailureStillCompletes(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{
		messages:  map[string][]scraper.Message{"general": {{ID: "m1", Sender: "a", Text: "x"}}},
		scrapeErr: map[string]error{"flaky": errors.New("channel vanished")},
	}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{
			{Name: "general", ID: "g"},
			{Name: "flaky", ID: "f"},
		},
		Depth: scraper.DepthThreeMonths,
	}
	require.NoError(t, run.RunScrape(task.ID, testCreds, sel))

	got := drain(t, reg, task.ID)
	var sawChannelError bool
	for _, evt := range got {
		if evt.Type == event.TypeError {
			require.Contains(t, evt.Message, "flaky")
			sawChannelError = true
		}
	}
	require.True(t, sawChannelError)

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusCompleted, final.Status)

	artifact, err := reg.Artifact(task.ID)
	require.NoError(t, err)
	require.Contains(t, string(artifact.Data), "general")
	require.NotContains(t, string(artifact.Data), "flaky")
}

func TestRunScrape_ChannelPanicIsContained(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{
		messages:    map[string][]scraper.Message{"general": {{ID: "m1", Sender: "a", Text: "x"}}},
		scrapePanic: map[string]string{"haunted": "browser exploded mid-channel"},
	}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{
			{Name: "general", ID: "g"},
			{Name: "haunted", ID: "h"},
		},
		Depth: scraper.DepthThreeMonths,
	}
	require.NoError(t, run.RunScrape(task.ID, testCreds, sel))

	// The panicking channel costs only itself: its error is reported and the
	// rest of the task carries on.
	got := drain(t, reg, task.ID)
	var sawPanicError bool
	for _, evt := range got {
		if evt.Type == event.TypeError {
			require.Contains(t, evt.Message, "haunted")
			require.Contains(t, evt.Message, "browser exploded mid-channel")
			sawPanicError = true
		}
	}
	require.True(t, sawPanicError)
	require.True(t, got[len(got)-1].Terminal())

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusCompleted, final.Status)

	artifact, err := reg.Artifact(task.ID)
	require.NoError(t, err)
	require.Contains(t, string(artifact.Data), "general")
	require.NotContains(t, string(artifact.Data), "haunted")
}

func TestRunScrape_AllChannelsPanicFailsTask(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{scrapePanic: map[string]string{"haunted": "browser exploded mid-channel"}}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{{Name: "haunted", ID: "h"}},
		Depth:    scraper.DepthThreeMonths,
	}
	require.NoError(t, run.RunScrape(task.ID, testCreds, sel))

	got := drain(t, reg, task.ID)
	require.True(t, got[len(got)-1].Terminal())

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFailed, final.Status)
	_, err = reg.Artifact(task.ID)
	require.ErrorIs(t, err, registry.ErrNotReady)
}

func TestRunScrape_AllChannelsFail(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{scrapeErr: map[string]error{"general": errors.New("boom")}}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{{Name: "general", ID: "g"}},
		Depth:    scraper.DepthThreeMonths,
	}
	require.NoError(t, run.RunScrape(task.ID, testCreds, sel))

	got := drain(t, reg, task.ID)
	require.True(t, got[len(got)-1].Terminal())

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFailed, final.Status)
	_, err = reg.Artifact(task.ID)
	require.ErrorIs(t, err, registry.ErrNotReady)
}

func TestRunScrape_InvalidSelectionFailsFast(t *testing.T) {
	t.Parallel()

	reg, run := newHarness(&stubScraper{})
	task, err := reg.Create(registry.KindScrape)
	require.NoError(t, err)

	sel := scraper.Selection{
		Channels: []scraper.Channel{{Name: "a", ID: "a"}, {Name: "b", ID: "b"}},
		Depth:    scraper.DepthEntireHistory,
	}
	require.Error(t, run.RunScrape(task.ID, testCreds, sel))

	// Nothing was launched, the task is still pending with an empty log.
	snap, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusPending, snap.Status)
	log, err := reg.Channel(task.ID)
	require.NoError(t, err)
	require.Empty(t, log.History())
}

func TestRun_UnknownTask(t *testing.T) {
	t.Parallel()

	_, run := newHarness(&stubScraper{})
	require.Error(t, run.RunEnumerate("missing", testCreds))
	require.Error(t, run.RunScrape("missing", testCreds, scraper.Selection{
		Channels: []scraper.Channel{{Name: "a", ID: "a"}},
		Depth:    scraper.DepthThreeMonths,
	}))
}

func TestRun_PanicBecomesFailedTask(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{panicMsg: "browser exploded"}
	reg, run := newHarness(scr)
	task, err := reg.Create(registry.KindEnumerate)
	require.NoError(t, err)
	require.NoError(t, run.RunEnumerate(task.ID, testCreds))

	got := drain(t, reg, task.ID)
	require.Equal(t, []event.Type{event.TypeError, event.TypeEndStream}, typesOf(got))
	require.Contains(t, got[0].Message, "browser exploded")
	require.Equal(t, "Process failed abruptly.", got[1].Message)

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusFailed, final.Status)
}
