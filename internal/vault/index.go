// Package vault projects the knowledge graph onto a directory of markdown
// notes. The read side resolves [[Name]] wiki links to notes via a cached
// directory scan; the write side applies idempotent frontmatter updates after
// graph commits.
package vault

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/errkind"
)

// Note is a parsed vault note.
type Note struct {
	// Path is absolute; RelPath is relative to the vault root without the
	// .md extension, the form wiki links use for path addressing.
	Path        string
	RelPath     string
	Name        string
	Frontmatter Frontmatter
	Body        string
}

// Index resolves wiki links against the vault directory. The name table is
// rebuilt on demand: on a lookup miss and on filesystem change events.
type Index struct {
	root   string
	logger *zap.Logger

	mu      sync.RWMutex
	byName  map[string]string
	byPath  map[string]string
	stale   bool
	watcher *fsnotify.Watcher

	notes *lru.Cache[string, *Note]
}

// NewIndex creates the link index over root and starts watching it for
// changes. The watcher marks the table stale; the next lookup rescans.
func NewIndex(root string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errkind.Newf(errkind.Config, "vault.new", "vault path %q is not a directory", root)
	}

	notes, err := lru.New[string, *Note](512)
	if err != nil {
		return nil, errkind.New(errkind.Config, "vault.new", err)
	}

	idx := &Index{
		root:   root,
		logger: logger.Named("vault"),
		stale:  true,
		notes:  notes,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		idx.logger.Warn("vault watcher unavailable, falling back to rescan-on-miss", zap.Error(err))
	} else {
		idx.watcher = watcher
		if err := watcher.Add(root); err != nil {
			idx.logger.Warn("vault watch failed", zap.Error(err))
		}
		go idx.watch()
	}
	return idx, nil
}

// Close stops the filesystem watcher.
func (i *Index) Close() error {
	if i.watcher != nil {
		return i.watcher.Close()
	}
	return nil
}

func (i *Index) watch() {
	for {
		select {
		case ev, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				i.mu.Lock()
				i.stale = true
				i.mu.Unlock()
				i.notes.Remove(ev.Name)
			}
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.logger.Warn("vault watch error", zap.Error(err))
		}
	}
}

// Resolve maps a wiki link to its note. A Name containing a path separator
// selects by vault-relative path; otherwise the base name decides, case
// insensitively. A miss triggers one rescan before giving up.
func (i *Index) Resolve(ctx context.Context, link domain.WikiLink) (*Note, bool, error) {
	path, ok, err := i.lookup(link.Name, false)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		path, ok, err = i.lookup(link.Name, true)
		if err != nil || !ok {
			return nil, false, err
		}
	}
	note, err := i.load(path)
	if err != nil {
		return nil, false, err
	}
	return note, true, nil
}

func (i *Index) lookup(name string, forceRescan bool) (string, bool, error) {
	i.mu.Lock()
	if i.stale || forceRescan {
		if err := i.rescanLocked(); err != nil {
			i.mu.Unlock()
			return "", false, err
		}
	}
	byName, byPath := i.byName, i.byPath
	i.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if strings.ContainsRune(key, '/') {
		key = strings.TrimSuffix(key, ".md")
		p, ok := byPath[key]
		return p, ok, nil
	}
	p, ok := byName[key]
	return p, ok, nil
}

// rescanLocked walks the vault and rebuilds both lookup tables. Caller holds
// the write lock.
func (i *Index) rescanLocked() error {
	byName := make(map[string]string)
	byPath := make(map[string]string)
	err := filepath.WalkDir(i.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != i.root {
				return filepath.SkipDir
			}
			if i.watcher != nil && path != i.root {
				_ = i.watcher.Add(path)
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(i.root, path)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(filepath.ToSlash(rel), ".md")
		base := strings.ToLower(strings.TrimSuffix(d.Name(), ".md"))
		// First note wins a name collision; path addressing disambiguates.
		if _, exists := byName[base]; !exists {
			byName[base] = path
		}
		byPath[strings.ToLower(rel)] = path
		return nil
	})
	if err != nil {
		return errkind.New(errkind.Transport, "vault.rescan", err)
	}
	i.byName = byName
	i.byPath = byPath
	i.stale = false
	i.logger.Debug("vault rescanned", zap.Int("notes", len(byPath)))
	return nil
}

// Notes walks every note in the vault, in path order. Used for startup
// rebuilds of the entity name index.
func (i *Index) Notes(ctx context.Context) ([]*Note, error) {
	i.mu.Lock()
	if i.stale {
		if err := i.rescanLocked(); err != nil {
			i.mu.Unlock()
			return nil, err
		}
	}
	paths := make([]string, 0, len(i.byPath))
	for _, p := range i.byPath {
		paths = append(paths, p)
	}
	i.mu.Unlock()

	sort.Strings(paths)
	notes := make([]*Note, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			return nil, errkind.New(errkind.Cancelled, "vault.notes", ctx.Err())
		}
		note, err := i.load(p)
		if err != nil {
			i.logger.Warn("skipping unreadable note", zap.String("path", p), zap.Error(err))
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// load parses a note, via the LRU cache.
func (i *Index) load(path string) (*Note, error) {
	if note, ok := i.notes.Get(path); ok {
		return note, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "vault.load", err)
	}
	fm, body, err := parseFrontmatter(raw)
	if err != nil {
		return nil, errkind.New(errkind.Schema, "vault.load", err)
	}
	rel, _ := filepath.Rel(i.root, path)
	note := &Note{
		Path:        path,
		RelPath:     strings.TrimSuffix(filepath.ToSlash(rel), ".md"),
		Name:        strings.TrimSuffix(filepath.Base(path), ".md"),
		Frontmatter: fm,
		Body:        body,
	}
	i.notes.Add(path, note)
	return note, nil
}
