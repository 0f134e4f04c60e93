package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/xaenox/rewritebot/internal/rules"
)

// Keys and sections are matched case-insensitively, the way the historic
// config files were written. Inline comments stay part of the value, since
// rule patterns may legitimately contain # or ;.
var loadOptions = ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true}

// Store owns the layered configuration: a read-only example file with the
// defaults, overlaid by a local file holding this deployment's overrides.
// Mutations write the merged document to the local file and reload, so a
// change is visible the same way whether it came from a menu or an editor.
type Store struct {
	examplePath string
	localPath   string
	log         *zap.Logger

	mu  sync.Mutex // serializes loads and mutations
	doc *ini.File  // merged view from the last good load

	snapMu  sync.RWMutex
	current *Snapshot

	exampleMod time.Time
	localMod   time.Time
}

// NewStore creates a store for the given file pair. Current returns
// defaults until Load succeeds.
func NewStore(examplePath, localPath string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{examplePath: examplePath, localPath: localPath, log: log}
	s.current = buildSnapshot(ini.Empty(loadOptions), log)
	return s
}

// Load reads and merges the config files, the local file winning over the
// example. On failure the previous snapshot stays in effect.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	s.exampleMod = modTime(s.examplePath)
	s.localMod = modTime(s.localPath)

	var sources []interface{}
	for _, p := range []string{s.examplePath, s.localPath} {
		if _, err := os.Stat(p); err == nil {
			sources = append(sources, p)
		}
	}
	if len(sources) == 0 {
		s.log.Warn("No configuration files found, using defaults",
			zap.String("example", s.examplePath),
			zap.String("local", s.localPath))
		s.doc = ini.Empty(loadOptions)
		s.swap(buildSnapshot(s.doc, s.log))
		return nil
	}

	doc, err := ini.LoadSources(loadOptions, sources[0], sources[1:]...)
	if err != nil {
		s.log.Error("Failed to parse configuration, keeping previous",
			zap.Error(err))
		return fmt.Errorf("loading config: %w", err)
	}

	s.doc = doc
	snap := buildSnapshot(doc, s.log)
	s.swap(snap)
	s.log.Info("Configuration loaded",
		zap.Int("rules", len(snap.Rules)),
		zap.Int("active_rules", snap.Engine.Len()),
		zap.String("access_policy", snap.Access.Mode))
	return nil
}

// Current returns the latest snapshot. It is never nil.
func (s *Store) Current() *Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.current
}

func (s *Store) swap(snap *Snapshot) {
	s.snapMu.Lock()
	s.current = snap
	s.snapMu.Unlock()
}

// CheckExternalChange reloads if either config file's mtime moved since
// the last load, and reports whether a reload happened. The update loop
// calls this before dispatching each update, so an edited file takes
// effect on the next message even without the watcher.
func (s *Store) CheckExternalChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if modTime(s.examplePath).Equal(s.exampleMod) && modTime(s.localPath).Equal(s.localMod) {
		return false
	}
	s.log.Info("Config file change detected, reloading")
	return s.loadLocked() == nil
}

// Watch reloads the store when a config file changes on disk. It returns
// once the watcher is wired; watching stops when ctx is cancelled.
// Directories are watched rather than the files themselves, so editors
// that replace files keep triggering events.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dirs := make(map[string]struct{})
	for _, p := range []string{s.examplePath, s.localPath} {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	watched := map[string]struct{}{
		filepath.Clean(s.examplePath): {},
		filepath.Clean(s.localPath):   {},
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if _, mine := watched[filepath.Clean(ev.Name)]; !mine {
					continue
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
					// The mtime check also swallows events caused by our
					// own saves.
					s.CheckExternalChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// SetBool persists one of the registered boolean toggles.
func (s *Store) SetBool(key string, value bool) error {
	if _, ok := FindBoolSetting(key); !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	return s.mutate(func(doc *ini.File) error {
		doc.Section(sectionBot).Key(key).SetValue(strconv.FormatBool(value))
		return nil
	})
}

// AddRule validates and persists a new substitution rule under the given
// name. The rule must parse and its pattern must compile.
func (s *Store) AddRule(key, spec string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	r, err := rules.Parse(key, spec)
	if err != nil {
		return err
	}
	if err := r.Compile(); err != nil {
		return err
	}
	return s.mutate(func(doc *ini.File) error {
		doc.Section(sectionSubs).Key(key).SetValue(spec)
		return nil
	})
}

// RemoveRule deletes a rule by name. A rule also declared in the example
// file reappears on the next load; only local-file rules go away for good.
func (s *Store) RemoveRule(key string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	return s.mutate(func(doc *ini.File) error {
		sec := doc.Section(sectionSubs)
		if !sec.HasKey(key) {
			return fmt.Errorf("no rule named %q", key)
		}
		sec.DeleteKey(key)
		setDisabled(doc, deleteFromList(disabledList(doc), key))
		return nil
	})
}

// ToggleRule flips a rule between enabled and disabled by editing the
// disabled_rules list.
func (s *Store) ToggleRule(key string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	return s.mutate(func(doc *ini.File) error {
		if !doc.Section(sectionSubs).HasKey(key) {
			return fmt.Errorf("no rule named %q", key)
		}
		disabled := disabledList(doc)
		if slices.Contains(disabled, key) {
			disabled = deleteFromList(disabled, key)
		} else {
			disabled = append(disabled, key)
		}
		setDisabled(doc, disabled)
		return nil
	})
}

// Reset copies the example file over the local file and reloads.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.examplePath)
	if err != nil {
		return fmt.Errorf("reading example config: %w", err)
	}
	if err := os.WriteFile(s.localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return s.loadLocked()
}

// mutate applies fn to the merged document, writes it to the local file
// and reloads. Writing the merged view keeps menu edits and hand edits on
// the same footing.
func (s *Store) mutate(fn func(*ini.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		s.doc = ini.Empty(loadOptions)
	}
	if err := fn(s.doc); err != nil {
		return err
	}
	if err := s.doc.SaveTo(s.localPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return s.loadLocked()
}

func disabledList(doc *ini.File) []string {
	return splitList(doc.Section(sectionBot).Key("disabled_rules").String())
}

func setDisabled(doc *ini.File, keys []string) {
	doc.Section(sectionBot).Key("disabled_rules").SetValue(strings.Join(keys, ", "))
}

func deleteFromList(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

func modTime(p string) time.Time {
	fi, err := os.Stat(p)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
