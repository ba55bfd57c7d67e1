// internal/procinfo/source.go
package procinfo

import (
	"context"
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/lancelot/internal/sapi"
)

// Source reads process snapshots from a procfs mount.
//
// CPU usage is the lifetime average (cpu seconds / wall seconds since start),
// the same figure ps(1) reports.
type Source struct {
	logger      *zap.Logger
	fs          procfs.FS
	concurrency int
	now         func() time.Time
	lookupUser  func(uid string) string

	userMu    sync.Mutex
	userCache map[string]string
}

var _ sapi.ProcessSource = (*Source)(nil)

// NewSource opens the procfs mount at mountPoint (usually /proc).
func NewSource(logger *zap.Logger, mountPoint string, concurrency int) (*Source, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	s := &Source{
		logger:      logger.Named("procinfo"),
		fs:          fs,
		concurrency: concurrency,
		now:         time.Now,
		userCache:   make(map[string]string),
	}
	s.lookupUser = s.resolveUser
	return s, nil
}

// Snapshot samples every process visible in the mount. Processes that exit
// while being sampled are skipped.
func (s *Source) Snapshot(ctx context.Context) ([]sapi.ProcessInfo, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	results := make([]*sapi.ProcessInfo, len(procs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range procs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			info, err := s.sample(p)
			if err != nil {
				s.logger.Debug("Skipping process.", zap.Int("pid", p.PID), zap.Error(err))
				return nil
			}
			results[i] = &info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]sapi.ProcessInfo, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Source) sample(p procfs.Proc) (sapi.ProcessInfo, error) {
	stat, err := p.Stat()
	if err != nil {
		return sapi.ProcessInfo{}, fmt.Errorf("stat: %w", err)
	}

	info := sapi.ProcessInfo{
		PID:         p.PID,
		Name:        stat.Comm,
		Status:      stat.State,
		MemoryBytes: uint64(max(stat.ResidentMemory(), 0)),
	}

	if comm, err := p.Comm(); err == nil && comm != "" {
		info.Name = comm
	}
	if args, err := p.CmdLine(); err == nil && len(args) > 0 {
		info.Command = strings.Join(args, " ")
	} else {
		// Kernel threads have no command line; ps shows them bracketed.
		info.Command = "[" + info.Name + "]"
	}
	if status, err := p.NewStatus(); err == nil {
		info.User = s.lookupUser(fmt.Sprint(status.UIDs[1]))
	}

	if started, err := stat.StartTime(); err == nil {
		elapsed := s.now().Sub(time.Unix(0, int64(started*float64(time.Second))))
		if elapsed > 0 {
			info.RunTime = elapsed
			info.CPUPercent = stat.CPUTime() / elapsed.Seconds() * 100
		}
	}
	return info, nil
}

func (s *Source) resolveUser(uid string) string {
	s.userMu.Lock()
	defer s.userMu.Unlock()

	if name, ok := s.userCache[uid]; ok {
		return name
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	} else if _, convErr := strconv.Atoi(uid); convErr != nil {
		name = "unknown"
	}
	s.userCache[uid] = name
	return name
}
