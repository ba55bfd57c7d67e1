package applier

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/lancelot/internal/cms"
	"github.com/xkilldash9x/lancelot/internal/evolution/bus"
	"github.com/xkilldash9x/lancelot/internal/evolution/models"
	"github.com/xkilldash9x/lancelot/internal/gate"
)

func newRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func fileAtCommit(t *testing.T, repo *git.Repository, hash, path string) string {
	t.Helper()
	c, err := repo.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	f, err := c.File(path)
	require.NoError(t, err)
	content, err := f.Contents()
	require.NoError(t, err)
	return content
}

func TestCleanRelPath(t *testing.T) {
	ok := map[string]string{
		"main.go":          "main.go",
		"pkg/../lib/x.go":  "lib/x.go",
		"./docs/readme.md": "docs/readme.md",
		"a/.gitignore":     "a/.gitignore",
		".github/ci.yml":   ".github/ci.yml",
	}
	for in, want := range ok {
		got, err := cleanRelPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"/etc/passwd", "../outside.go", "a/../../b", ".", ".git/config", ".git"} {
		_, err := cleanRelPath(bad)
		assert.ErrorIs(t, err, ErrUnsafePath, bad)
	}
}

func TestApplier_ApplyCommits(t *testing.T) {
	dir, repo := newRepo(t)
	eb := bus.NewEvolutionBus(zaptest.NewLogger(t), 0)
	defer eb.Shutdown()

	a, err := NewApplier(zaptest.NewLogger(t), eb, nil, Config{RepoRoot: dir, AuthorName: "tester", AuthorEmail: "t@example.com"})
	require.NoError(t, err)

	res := a.Apply(context.Background(), models.ModificationProposed{
		ProposalID:  "p-1",
		Path:        "src/hello.go",
		Content:     "package src\n",
		Description: "Add hello",
	})
	require.Equal(t, "applied", res.Status, res.Reason)
	require.NotEmpty(t, res.Commit)
	assert.Equal(t, "package src\n", fileAtCommit(t, repo, res.Commit, "src/hello.go"))

	c, err := repo.CommitObject(plumbing.NewHash(res.Commit))
	require.NoError(t, err)
	assert.Equal(t, "Add hello", c.Message)
	assert.Equal(t, "tester", c.Author.Name)

	// Same content again: nothing to commit, still applied.
	again := a.Apply(context.Background(), models.ModificationProposed{ProposalID: "p-2", Path: "src/hello.go", Content: "package src\n"})
	assert.Equal(t, "applied", again.Status)
	assert.Empty(t, again.Commit)
}

func TestApplier_RejectsUnsafePath(t *testing.T) {
	dir, _ := newRepo(t)
	eb := bus.NewEvolutionBus(zaptest.NewLogger(t), 0)
	defer eb.Shutdown()

	a, err := NewApplier(zaptest.NewLogger(t), eb, nil, Config{RepoRoot: dir})
	require.NoError(t, err)

	res := a.Apply(context.Background(), models.ModificationProposed{ProposalID: "p", Path: "../escape.go", Content: "x"})
	assert.Equal(t, "rejected", res.Status)
	assert.Contains(t, res.Reason, "escapes the repository")
}

func TestApplier_RejectsSymlinkedPath(t *testing.T) {
	dir, _ := newRepo(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "target.go"), filepath.Join(dir, "file.go")))

	eb := bus.NewEvolutionBus(zaptest.NewLogger(t), 0)
	defer eb.Shutdown()
	a, err := NewApplier(zaptest.NewLogger(t), eb, nil, Config{RepoRoot: dir})
	require.NoError(t, err)

	for _, path := range []string{"link/x.go", "link/nested/x.go", "file.go"} {
		res := a.Apply(context.Background(), models.ModificationProposed{ProposalID: "p", Path: path, Content: "x"})
		assert.Equal(t, "rejected", res.Status, path)
		assert.Contains(t, res.Reason, "symlink", path)
	}

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written through the link")

	// Ordinary nested paths are still created.
	res := a.Apply(context.Background(), models.ModificationProposed{ProposalID: "q", Path: "pkg/new/x.go", Content: "package new\n"})
	assert.Equal(t, "applied", res.Status)
}

func TestNewApplier_MissingRepo(t *testing.T) {
	eb := bus.NewEvolutionBus(zaptest.NewLogger(t), 0)
	defer eb.Shutdown()

	_, err := NewApplier(zaptest.NewLogger(t), eb, nil, Config{RepoRoot: t.TempDir()})
	assert.ErrorIs(t, err, git.ErrRepositoryNotExists)

	_, err = NewApplier(zaptest.NewLogger(t), eb, nil, Config{RepoRoot: t.TempDir(), InitIfMissing: true})
	assert.NoError(t, err)
}

func TestApplier_ResolvesStagedProposals(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir, repo := newRepo(t)
	logger := zaptest.NewLogger(t)
	eb := bus.NewEvolutionBus(logger, 4)

	machine := gate.NewMachine()
	for machine.Stage() < gate.CodeModification {
		machine.Evolve()
	}
	stager := cms.NewStager(logger, machine, eb)

	a, err := NewApplier(logger, eb, stager, Config{RepoRoot: dir})
	require.NoError(t, err)
	resolutions, _ := eb.Subscribe(models.TypeModificationResolved)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Start(ctx)
	}()

	good, err := stager.Propose(ctx, cms.NewCodeModification("README.md", "# hi\n", "Add readme"))
	require.NoError(t, err)
	bad, err := stager.Propose(ctx, cms.NewCodeModification(".git/HEAD", "ref: refs/heads/evil\n", "Hijack"))
	require.NoError(t, err)

	var got []models.ModificationResolved
	for len(got) < 2 {
		select {
		case msg := <-resolutions:
			got = append(got, msg.Payload.(models.ModificationResolved))
			eb.Acknowledge(msg)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for resolutions")
		}
	}

	assert.Equal(t, good.ID, got[0].ProposalID)
	assert.Equal(t, "applied", got[0].Status)
	assert.Equal(t, "# hi\n", fileAtCommit(t, repo, got[0].Commit, "README.md"))
	assert.Equal(t, bad.ID, got[1].ProposalID)
	assert.Equal(t, "rejected", got[1].Status)

	p, ok := stager.Get(good.ID)
	require.True(t, ok)
	assert.Equal(t, cms.StatusApplied, p.Status)
	p, ok = stager.Get(bad.ID)
	require.True(t, ok)
	assert.Equal(t, cms.StatusRejected, p.Status)
	assert.Empty(t, stager.Pending())

	eb.Shutdown()
	cancel()
	wg.Wait()
}
