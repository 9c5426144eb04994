// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/autoflow/internal/log"
)

// DefaultDebounce is how long the watcher waits for changes to settle
// before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the directory whenever a matching document is created,
// written, removed or renamed, and passes every report to onReload. Bursts of
// events within debounce collapse into one reload. Watch blocks until ctx is
// done.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, onReload func(*Report)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	root, err := filepath.Abs(l.dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := addTree(fsw, root); err != nil {
		return err
	}
	l.logger.Info("watching automations")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !l.relevant(fsw, root, event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			report, err := l.Load(ctx)
			if err != nil {
				l.logger.Error("reload failed", log.Error(err))
				continue
			}
			if onReload != nil {
				onReload(report)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("file watcher error", log.Error(err))
		}
	}
}

// relevant filters events to matching documents. New directories are added
// to the watch and count as a change, since files may already be inside.
func (l *Loader) relevant(fsw *fsnotify.Watcher, root string, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Has(fsnotify.Create) {
		if isDir, err := statDir(event.Name); err == nil && isDir {
			if err := addTree(fsw, event.Name); err != nil {
				l.logger.Warn("failed to watch new directory", slog.String("path", event.Name), log.Error(err))
			}
			return true
		}
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return false
	}
	match := l.Matches(filepath.ToSlash(rel))
	if match {
		log.Trace(l.logger, "automation document changed",
			slog.String("file", rel),
			slog.String("op", event.Op.String()))
	}
	return match
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}
