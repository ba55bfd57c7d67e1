// internal/ipcfeed/follower.go
package ipcfeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/lancelot/internal/gate"
	"github.com/xkilldash9x/lancelot/internal/sapi"
)

// SystemCaller is the agent surface the follower delivers through, so every
// message passes the same gate as a direct send.
type SystemCaller interface {
	SystemCall(ctx context.Context, req sapi.SystemCallRequest) (sapi.Response, error)
}

// Config controls which file is followed and how fast lines are delivered.
type Config struct {
	Path string
	// Rate is messages per second; zero means unlimited.
	Rate  float64
	Burst int
	// FromStart replays existing lines instead of only new ones.
	FromStart bool
	// Poll uses stat polling instead of inotify.
	Poll bool
}

// Stats summarizes a Run.
type Stats struct {
	Delivered int
	Malformed int
	Denied    int
}

// Follower tails a file and turns each line into a send_message call.
//
// Accepted line forms:
//
//	1234 hello there
//	1234: hello there
//	{"pid": 1234, "text": "hello there"}
type Follower struct {
	logger  *zap.Logger
	caller  SystemCaller
	cfg     Config
	limiter *rate.Limiter
}

func NewFollower(logger *zap.Logger, caller SystemCaller, cfg Config) *Follower {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Follower{
		logger:  logger.Named("ipcfeed"),
		caller:  caller,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Run follows the file until ctx is done. A permission denial stops the run,
// since every later line would be denied too.
func (f *Follower) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	tcfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      f.cfg.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if !f.cfg.FromStart {
		tcfg.Location = &tail.SeekInfo{Offset: 0, Whence: 2}
	}
	t, err := tail.TailFile(f.cfg.Path, tcfg)
	if err != nil {
		return stats, fmt.Errorf("failed to tail %s: %w", f.cfg.Path, err)
	}
	defer f.stop(t)

	f.logger.Info("Following message feed.", zap.String("path", f.cfg.Path))

	for {
		select {
		case <-ctx.Done():
			return stats, nil
		case line, ok := <-t.Lines:
			if !ok {
				return stats, t.Err()
			}
			if line.Err != nil {
				f.logger.Warn("Error reading from feed", zap.Error(line.Err))
				continue
			}
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			pid, text, err := ParseLine(line.Text)
			if err != nil {
				stats.Malformed++
				f.logger.Debug("Skipping malformed feed line.", zap.String("line", line.Text), zap.Error(err))
				continue
			}

			if err := f.limiter.Wait(ctx); err != nil {
				// Context cancelled while throttled.
				return stats, nil
			}

			req := sapi.NewSystemCallRequest(sapi.CmdSendMessage, 0).
				WithOperation(sapi.SendMessage{PID: pid, Text: text})
			if _, err := f.caller.SystemCall(ctx, req); err != nil {
				if errors.Is(err, gate.ErrPermissionDenied) {
					stats.Denied++
					return stats, err
				}
				return stats, fmt.Errorf("failed to deliver message to %d: %w", pid, err)
			}
			stats.Delivered++
		}
	}
}

// stop ends the tail. The reader goroutine may be blocked handing over a
// line nobody will read, so Lines is drained until tail closes it.
func (f *Follower) stop(t *tail.Tail) {
	go func() {
		for range t.Lines {
		}
	}()
	if err := t.Stop(); err != nil {
		f.logger.Debug("Tail stopped with error.", zap.Error(err))
	}
	// Polling never registers an inotify watch; Cleanup would start the
	// shared inotify tracker just to remove nothing.
	if !f.cfg.Poll {
		t.Cleanup()
	}
}

type jsonLine struct {
	PID  *int   `json:"pid"`
	Text string `json:"text"`
}

// ParseLine splits a feed line into a target pid and the message text.
func ParseLine(line string) (int, string, error) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "{") {
		var jl jsonLine
		if err := json.UnmarshalFromString(trimmed, &jl); err != nil {
			return 0, "", fmt.Errorf("invalid JSON line: %w", err)
		}
		if jl.PID == nil {
			return 0, "", errors.New("JSON line has no pid")
		}
		if *jl.PID < 0 {
			return 0, "", fmt.Errorf("negative pid %d", *jl.PID)
		}
		return *jl.PID, jl.Text, nil
	}

	sep := strings.IndexAny(trimmed, ": ")
	if sep <= 0 {
		return 0, "", errors.New("line has no pid separator")
	}
	head, text := trimmed[:sep], trimmed[sep+1:]
	pid, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", fmt.Errorf("invalid pid %q", head)
	}
	if pid < 0 {
		return 0, "", fmt.Errorf("negative pid %d", pid)
	}
	return pid, strings.TrimSpace(text), nil
}
