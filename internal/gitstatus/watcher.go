// Package gitstatus keeps the worktree panel fresh: it watches each
// worktree's git metadata and asks observers to refetch status when the
// branch or index changes.
package gitstatus

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/logging"
)

// Watcher monitors one worktree's git directory and publishes a refresh
// signal whenever HEAD or the index moves.
type Watcher struct {
	fsw          *fsnotify.Watcher
	bus          *event.Bus
	worktreeID   string
	worktreePath string
	gitDir       string
	log          zerolog.Logger

	mu     sync.RWMutex
	branch string

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher creates a watcher for a worktree. A path that is not inside a
// git repository yields a nil watcher and no error; git integration simply
// stays off for it.
func NewWatcher(bus *event.Bus, worktreeID, worktreePath string) (*Watcher, error) {
	log := logging.Component("gitstatus")

	gitDir := resolveGitDir(worktreePath)
	if gitDir == "" {
		log.Debug().Str("path", worktreePath).Msg("not a git repository, watcher disabled")
		return nil, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watching the directory rather than HEAD itself: editors and git both
	// replace files by rename, which breaks per-file watches.
	if err := fsw.Add(gitDir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		fsw:          fsw,
		bus:          bus,
		worktreeID:   worktreeID,
		worktreePath: worktreePath,
		gitDir:       gitDir,
		log:          log,
		branch:       currentBranch(worktreePath),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if name == "HEAD" || name == "index" {
				w.refresh()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Str("worktree_id", w.worktreeID).Msg("watch error")
		}
	}
}

// refresh re-reads the branch and tells observers to refetch status. The
// signal fires on index changes even when the branch is unchanged; the
// dirty-file set may have moved.
func (w *Watcher) refresh() {
	branch := currentBranch(w.worktreePath)

	w.mu.Lock()
	changed := branch != w.branch
	w.branch = branch
	w.mu.Unlock()

	if changed {
		w.log.Info().
			Str("worktree_id", w.worktreeID).
			Str("branch", branch).
			Msg("branch changed")
	}

	w.bus.Publish(event.Event{
		Type: event.GitStatusChanged,
		Data: event.GitStatusChangedData{
			WorktreeID:   w.worktreeID,
			WorktreePath: w.worktreePath,
			Branch:       branch,
		},
	})
}

// Branch returns the currently tracked branch name.
func (w *Watcher) Branch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.branch
}

// Stop stops the watcher and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.fsw.Close()
}

// Status summarizes a worktree's git state for the session list.
type Status struct {
	Branch     string `json:"branch"`
	DirtyFiles int    `json:"dirty_files"`
}

// CurrentStatus reads the branch and dirty-file count for a worktree.
func CurrentStatus(worktreePath string) Status {
	return Status{
		Branch:     currentBranch(worktreePath),
		DirtyFiles: dirtyFileCount(worktreePath),
	}
}

// resolveGitDir finds the git directory for a path, following worktree
// pointer files.
func resolveGitDir(path string) string {
	out, err := gitOutput(path, "rev-parse", "--git-dir")
	if err != nil {
		return ""
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(path, gitDir)
	}
	return gitDir
}

func currentBranch(path string) string {
	out, err := gitOutput(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func dirtyFileCount(path string) int {
	out, err := gitOutput(path, "status", "--porcelain")
	if err != nil {
		return 0
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return 0
	}
	return len(strings.Split(out, "\n"))
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}
