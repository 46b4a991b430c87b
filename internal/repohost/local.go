package repohost

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	localOwner    = "local"
	hookSection   = "ideaforge"
	commitAuthor  = "IdeaForge"
	commitAddress = "provisioner@ideaforge.local"
)

// Local provisions plain git repositories on disk. Webhook registrations are
// kept in each repository's git config under the [ideaforge] section.
type Local struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func NewLocal(baseDir string) *Local {
	return &Local{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (l *Local) CreateRepository(_ context.Context, spec RepoSpec) (Repository, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return Repository{}, fmt.Errorf("invalid repository name %q", spec.Name)
	}
	lock := l.repoLock(name)
	lock.Lock()
	defer lock.Unlock()

	path := l.repoPath(name)
	if _, err := os.Stat(path); err == nil {
		return Repository{}, fmt.Errorf("%w: %s", ErrRepositoryExists, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Repository{}, fmt.Errorf("stat repo path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Repository{}, fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return Repository{}, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Repository{}, fmt.Errorf("open worktree: %w", err)
	}

	readme := "# " + name + "\n"
	if desc := strings.TrimSpace(spec.Description); desc != "" {
		readme += "\n" + desc + "\n"
	}
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return Repository{}, fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return Repository{}, fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: commitAuthor, Email: commitAddress, When: l.now()},
	})
	if err != nil {
		return Repository{}, fmt.Errorf("commit readme: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return Repository{}, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return Repository{}, fmt.Errorf("set HEAD to main: %w", err)
	}

	sum := sha1.Sum([]byte(path))
	absolute, err := filepath.Abs(path)
	if err != nil {
		absolute = path
	}
	return Repository{
		ID:       hex.EncodeToString(sum[:8]),
		FullName: localOwner + "/" + name,
		URL:      "file://" + filepath.ToSlash(absolute),
	}, nil
}

func (l *Local) CreateWebhook(_ context.Context, fullName, targetURL string, events []string) (string, error) {
	name, err := localName(fullName)
	if err != nil {
		return "", err
	}
	lock := l.repoLock(name)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(l.repoPath(name))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("read repo config: %w", err)
	}

	section := cfg.Raw.Section(hookSection)
	hookID := fmt.Sprintf("%d", len(section.Subsections)+1)
	section.Subsection(hookID).
		SetOption("url", targetURL).
		SetOption("event", events...)

	if err := repo.SetConfig(cfg); err != nil {
		return "", fmt.Errorf("write repo config: %w", err)
	}
	return hookID, nil
}

// Webhook is a registration read back from a local repository.
type Webhook struct {
	ID     string
	URL    string
	Events []string
}

func (l *Local) Webhooks(fullName string) ([]Webhook, error) {
	name, err := localName(fullName)
	if err != nil {
		return nil, err
	}
	lock := l.repoLock(name)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(l.repoPath(name))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read repo config: %w", err)
	}
	hooks := make([]Webhook, 0)
	for _, sub := range cfg.Raw.Section(hookSection).Subsections {
		hooks = append(hooks, Webhook{
			ID:     sub.Name,
			URL:    sub.Options.Get("url"),
			Events: sub.Options.GetAll("event"),
		})
	}
	return hooks, nil
}

func localName(fullName string) (string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner != localOwner || name == "" {
		return "", fmt.Errorf("not a local repository: %q", fullName)
	}
	return name, nil
}

func (l *Local) repoPath(name string) string {
	return filepath.Join(l.baseDir, name)
}

func (l *Local) repoLock(name string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	lock, ok := l.locks[name]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.locks[name] = lock
	return lock
}
