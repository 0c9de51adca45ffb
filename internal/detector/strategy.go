package detector

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Strategy is one independent way of deciding whether a channel is live.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, channel string) (StrategyResult, error)
}

// Strategy names.
const (
	StrategyVideos  = "videos"
	StrategyStreams = "streams"
)

// StrategyNames lists every strategy NewStrategy accepts, in default order.
var StrategyNames = []string{StrategyVideos, StrategyStreams}

// minLiveDuration filters out finished clips that still carry live metadata.
const minLiveDuration = time.Hour

// NewStrategy returns the named strategy reading from src.
func NewStrategy(name string, src Source, playlistEnd int) (Strategy, error) {
	switch name {
	case StrategyVideos:
		return &videosStrategy{source: src, limit: playlistEnd}, nil
	case StrategyStreams:
		return &streamsStrategy{source: src}, nil
	default:
		return nil, fmt.Errorf("unknown detection strategy %q", name)
	}
}

// videosStrategy resolves the newest entries of the channel listing.
type videosStrategy struct {
	source Source
	limit  int
}

func (s *videosStrategy) Name() string { return StrategyVideos }

func (s *videosStrategy) Detect(ctx context.Context, channel string) (StrategyResult, error) {
	entries, err := s.source.Entries(ctx, channel, Options{Limit: s.limit})
	if err != nil {
		return StrategyResult{Strategy: StrategyVideos}, err
	}
	return collect(StrategyVideos, entries, isCurrentlyLive), nil
}

// streamsStrategy lists the channel's streams tab without resolving each entry.
type streamsStrategy struct {
	source Source
}

func (s *streamsStrategy) Name() string { return StrategyStreams }

func (s *streamsStrategy) Detect(ctx context.Context, channel string) (StrategyResult, error) {
	entries, err := s.source.Entries(ctx, StreamsURL(channel), Options{Flat: true})
	if err != nil {
		return StrategyResult{Strategy: StrategyStreams}, err
	}
	return collect(StrategyStreams, entries, isListedLive), nil
}

func collect(name string, entries []Entry, qualifies func(Entry) bool) StrategyResult {
	res := StrategyResult{Strategy: name, Entries: len(entries)}
	for _, e := range entries {
		if qualifies(e) {
			res.Titles = append(res.Titles, e.Title)
		}
	}
	res.Live = len(res.Titles) > 0
	return res
}

// isCurrentlyLive reports whether a fully resolved entry is an in-progress
// broadcast long enough not to be a finished clip.
func isCurrentlyLive(e Entry) bool {
	live := e.LiveStatus == "is_live" ||
		(e.IsLive && !e.WasLive) ||
		e.LiveStatus == "live"
	if !live {
		return false
	}
	if e.Duration == nil {
		return true
	}
	return time.Duration(*e.Duration*float64(time.Second)) > minLiveDuration
}

// isListedLive applies the looser test used for flat listings, where only
// the status and title are known.
func isListedLive(e Entry) bool {
	if e.LiveStatus == "is_live" {
		return true
	}
	return e.IsLive && strings.Contains(strings.ToLower(e.Title), "live")
}

// StreamsURL returns the URL of the channel's streams tab.
func StreamsURL(channel string) string {
	if strings.Contains(channel, "/videos") || strings.Contains(channel, "/streams") {
		u := strings.ReplaceAll(channel, "/videos", "/streams")
		return strings.ReplaceAll(u, "/featured", "/streams")
	}
	return strings.TrimRight(channel, "/") + "/streams"
}
