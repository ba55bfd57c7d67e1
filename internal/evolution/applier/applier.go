package applier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancelot/internal/cms"
	"github.com/xkilldash9x/lancelot/internal/evolution/bus"
	"github.com/xkilldash9x/lancelot/internal/evolution/models"
)

// ErrUnsafePath rejects targets outside the worktree or inside .git.
var ErrUnsafePath = errors.New("unsafe modification path")

// Resolver records the applier's verdict on a proposal.
type Resolver interface {
	Resolve(id string, status cms.Status, reason string) (cms.Proposal, error)
}

// Config locates the repository and names the commit author.
type Config struct {
	RepoRoot    string
	AuthorName  string
	AuthorEmail string
	// InitIfMissing creates a repository at RepoRoot when none exists.
	InitIfMissing bool
}

// Applier writes proposed modifications into a git worktree, commits them,
// and reports Applied or Rejected back to the stager.
type Applier struct {
	logger   *zap.Logger
	bus      *bus.EvolutionBus
	resolver Resolver
	repo     *git.Repository
	cfg      Config
	now      func() time.Time

	// One worktree, one writer.
	mu sync.Mutex

	msgChan <-chan bus.Message
}

// NewApplier opens the repository and subscribes to proposals.
func NewApplier(logger *zap.Logger, eb *bus.EvolutionBus, resolver Resolver, cfg Config) (*Applier, error) {
	repo, err := git.PlainOpen(cfg.RepoRoot)
	if errors.Is(err, git.ErrRepositoryNotExists) && cfg.InitIfMissing {
		repo, err = git.PlainInit(cfg.RepoRoot, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", cfg.RepoRoot, err)
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "lancelot"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "lancelot@localhost"
	}

	// The bus closes the channel on shutdown.
	msgChan, _ := eb.Subscribe(models.TypeModificationProposed)

	return &Applier{
		logger:   logger.Named("applier"),
		bus:      eb,
		resolver: resolver,
		repo:     repo,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		msgChan:  msgChan,
	}, nil
}

// Start applies proposals until ctx is done or the bus shuts down.
func (a *Applier) Start(ctx context.Context) {
	a.logger.Info("Applier started, waiting for proposals...", zap.String("repo", a.cfg.RepoRoot))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.msgChan:
			if !ok {
				return
			}
			a.handleProposal(ctx, msg)
			a.bus.Acknowledge(msg)
		}
	}
}

func (a *Applier) handleProposal(ctx context.Context, msg bus.Message) {
	proposed, ok := msg.Payload.(models.ModificationProposed)
	if !ok {
		return
	}

	resolved := a.Apply(ctx, proposed)

	status := cms.StatusRejected
	if resolved.Status == cms.StatusApplied.String() {
		status = cms.StatusApplied
	}
	if a.resolver != nil {
		if _, err := a.resolver.Resolve(proposed.ProposalID, status, resolved.Reason); err != nil {
			a.logger.Warn("Failed to resolve proposal.", zap.String("proposal_id", proposed.ProposalID), zap.Error(err))
		}
	}

	if err := a.bus.Post(ctx, models.TypeModificationResolved, resolved); err != nil {
		if ctx.Err() == nil {
			a.logger.Error("Failed to post resolution to bus.", zap.Error(err))
		}
	}
}

// Apply writes and commits one modification. It never returns an error; a
// failure is a rejection carrying the reason.
func (a *Applier) Apply(ctx context.Context, p models.ModificationProposed) models.ModificationResolved {
	resolved := models.ModificationResolved{
		ProposalID: p.ProposalID,
		Path:       p.Path,
	}

	commit, err := a.commit(ctx, p)
	resolved.Timestamp = a.now()
	if err != nil {
		a.logger.Warn("Modification rejected.", zap.String("proposal_id", p.ProposalID), zap.String("path", p.Path), zap.Error(err))
		resolved.Status = cms.StatusRejected.String()
		resolved.Reason = err.Error()
		return resolved
	}

	a.logger.Info("Modification applied.", zap.String("proposal_id", p.ProposalID), zap.String("path", p.Path), zap.String("commit", commit))
	resolved.Status = cms.StatusApplied.String()
	resolved.Commit = commit
	return resolved
}

func (a *Applier) commit(ctx context.Context, p models.ModificationProposed) (string, error) {
	rel, err := cleanRelPath(p.Path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	wt, err := a.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := checkNoSymlinks(wt.Filesystem, rel); err != nil {
		return "", err
	}
	if err := util.WriteFile(wt.Filesystem, rel, []byte(p.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if _, err := wt.Add(rel); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", rel, err)
	}

	message := p.Description
	if strings.TrimSpace(message) == "" {
		message = "Update " + rel
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  a.cfg.AuthorName,
			Email: a.cfg.AuthorEmail,
			When:  a.now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		// Content already matches HEAD.
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit %s: %w", rel, err)
	}
	return hash.String(), nil
}

// checkNoSymlinks rejects rel when it, or any directory leading to it, is a
// symlink. The worktree filesystem follows links, so a committed link could
// otherwise redirect the write outside the repository.
func checkNoSymlinks(fs billy.Filesystem, rel string) error {
	parts := strings.Split(rel, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		fi, err := fs.Lstat(prefix)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", prefix, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, rel, prefix)
		}
	}
	return nil
}

// cleanRelPath normalizes p to a slash-separated path inside the worktree.
func cleanRelPath(p string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(p))
	if filepath.IsAbs(p) || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: %s is absolute", ErrUnsafePath, p)
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s escapes the repository", ErrUnsafePath, p)
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git/") {
		return "", fmt.Errorf("%w: %s targets repository metadata", ErrUnsafePath, p)
	}
	return clean, nil
}
