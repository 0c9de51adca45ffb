package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for yt-dlp's output pipes after the
// process exits or ctx ends, in case a child process still holds them.
const waitDelay = 2 * time.Second

// Entry is one video or broadcast listed for a channel.
type Entry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	LiveStatus string   `json:"live_status"`
	IsLive     bool     `json:"is_live"`
	WasLive    bool     `json:"was_live"`
	Duration   *float64 `json:"duration"`
	Entries    []Entry  `json:"entries"`
}

// Options controls a metadata query.
type Options struct {
	// Flat lists entries without resolving each video page.
	Flat bool
	// Limit caps the number of listed entries; 0 means no limit.
	Limit int
}

// Source queries a video platform for the entries listed at a URL.
type Source interface {
	Entries(ctx context.Context, url string, opts Options) ([]Entry, error)
}

// CommandExecutor abstracts os/exec for testability.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// osExecutor is the real CommandExecutor that uses os/exec.
type osExecutor struct{}

func (e *osExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	var errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &errBuf
	cmd.WaitDelay = waitDelay
	stdout, err = cmd.Output()
	return stdout, errBuf.Bytes(), err
}

type ytdlpSource struct {
	binary   string
	executor CommandExecutor
}

// NewYtDlpSource returns a Source backed by the yt-dlp binary.
func NewYtDlpSource(binary string) Source {
	return NewYtDlpSourceWithExecutor(binary, &osExecutor{})
}

// NewYtDlpSourceWithExecutor creates a yt-dlp source with a custom executor (for testing).
func NewYtDlpSourceWithExecutor(binary string, exec CommandExecutor) Source {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &ytdlpSource{binary: binary, executor: exec}
}

func (s *ytdlpSource) Entries(ctx context.Context, url string, opts Options) ([]Entry, error) {
	args := []string{"--dump-single-json", "--no-warnings", "--quiet", "--skip-download"}
	if opts.Flat {
		args = append(args, "--flat-playlist")
	}
	if opts.Limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(opts.Limit))
	}
	args = append(args, url)

	stdout, stderr, err := s.executor.Run(ctx, s.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("running %s: %w", s.binary, ctx.Err())
		}
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return nil, fmt.Errorf("running %s: %v: %s", s.binary, err, msg)
		}
		return nil, fmt.Errorf("running %s: %w", s.binary, err)
	}
	return decodeEntries(stdout)
}

func decodeEntries(data []byte) ([]Entry, error) {
	var info Entry
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return flatten(info.Entries), nil
}

// flatten expands nested playlists such as channel tabs into their videos.
func flatten(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if len(e.Entries) > 0 {
			out = append(out, flatten(e.Entries)...)
			continue
		}
		out = append(out, e)
	}
	return out
}
