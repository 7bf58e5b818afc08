package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/eggsync/internal/event"
)

// Spool subdirectories for files that have been handled.
const (
	DoneDir     = "done"
	RejectedDir = "rejected"
)

// imageTypes maps sibling image extensions to content types, in lookup order.
var imageTypes = []struct {
	ext         string
	contentType string
}{
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".webp", "image/webp"},
}

// Recorder is satisfied by *API.
type Recorder interface {
	Record(ctx context.Context, d event.Detection, img *event.ImageInput) (int64, error)
}

// SpoolWatcher ingests detections dropped into a directory by an external
// capture process.
//
// A detection is a <name>.json file holding an event.Detection, with an
// optional <name>.jpg/.jpeg/.png/.webp image next to it. Producers should
// write the image first and rename the JSON into place last. Recorded files
// move to done/, invalid ones to rejected/. Files that fail on a storage
// error stay put and are retried on the next rescan.
type SpoolWatcher struct {
	dir    string
	rec    Recorder
	rescan time.Duration
	settle time.Duration
	logger *slog.Logger
	now    func() time.Time
	rename func(oldpath, newpath string) error

	// stranded maps recorded JSON files that could not be moved to done/ to
	// their image path. They are never recorded again, only moved.
	mu       sync.Mutex
	stranded map[string]string
}

// SpoolOption configures a SpoolWatcher.
type SpoolOption func(*SpoolWatcher)

// WithRescanInterval sets how often the whole directory is rescanned.
func WithRescanInterval(d time.Duration) SpoolOption {
	return func(s *SpoolWatcher) {
		if d > 0 {
			s.rescan = d
		}
	}
}

// WithSpoolLogger sets the logger.
func WithSpoolLogger(l *slog.Logger) SpoolOption {
	return func(s *SpoolWatcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSpoolWatcher creates the spool directories if needed.
func NewSpoolWatcher(dir string, rec Recorder, opts ...SpoolOption) (*SpoolWatcher, error) {
	for _, d := range []string{dir, filepath.Join(dir, DoneDir), filepath.Join(dir, RejectedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("spool dir: %w", err)
		}
	}
	s := &SpoolWatcher{
		dir:    dir,
		rec:    rec,
		rescan: 30 * time.Second,
		settle: 2 * time.Second,
		logger: slog.Default(),
		now:    time.Now,
		rename: os.Rename,

		stranded: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run scans the spool, then handles new files as they appear until ctx is
// done.
func (s *SpoolWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("spool watcher starting", "dir", s.dir)

	s.Scan(ctx)
	ticker := time.NewTicker(s.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("spool watcher: events channel closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				s.handle(ctx, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("spool watcher: errors channel closed")
			}
			s.logger.Warn("spool watcher error", "err", err)
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan handles every JSON file currently in the spool and returns how many
// were recorded.
func (s *SpoolWatcher) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("spool scan failed", "dir", s.dir, "err", err)
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		if s.handle(ctx, filepath.Join(s.dir, e.Name())) {
			n++
		}
	}
	return n
}

// handle records one spool file and reports whether it was recorded.
func (s *SpoolWatcher) handle(ctx context.Context, path string) bool {
	if s.retryStranded(path) {
		return false
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Already handled by an earlier event.
		return false
	}
	if err != nil {
		s.logger.Warn("read spool file", "path", path, "err", err)
		return false
	}

	var d event.Detection
	if err := json.Unmarshal(raw, &d); err != nil {
		if s.fresh(path) {
			// Probably still being written; the next event or rescan retries.
			return false
		}
		s.reject(path, fmt.Errorf("%w: %v", ErrInvalidDetection, err))
		return false
	}

	img, imgPath, err := s.image(path)
	if err != nil {
		s.logger.Warn("read spool image", "path", imgPath, "err", err)
		return false
	}

	id, err := s.rec.Record(ctx, d, img)
	if errors.Is(err, ErrInvalidDetection) {
		s.reject(path, err)
		return false
	}
	if err != nil {
		s.logger.Error("spool record failed", "path", path, "err", err)
		return false
	}

	s.logger.Info("spool detection recorded", "path", filepath.Base(path), "local_id", id)
	if err := s.move(path, DoneDir); err != nil {
		s.mu.Lock()
		s.stranded[path] = imgPath
		s.mu.Unlock()
		return true
	}
	if imgPath != "" {
		_ = s.move(imgPath, DoneDir)
	}
	return true
}

// retryStranded moves a recorded file that is still in the spool and
// reports whether path was one.
func (s *SpoolWatcher) retryStranded(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	imgPath, ok := s.stranded[path]
	if !ok {
		return false
	}
	if err := s.move(path, DoneDir); err != nil {
		return true
	}
	delete(s.stranded, path)
	if imgPath != "" {
		_ = s.move(imgPath, DoneDir)
	}
	return true
}

func (s *SpoolWatcher) image(jsonPath string) (*event.ImageInput, string, error) {
	base := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath))
	for _, it := range imageTypes {
		p := base + it.ext
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, err
		}
		return &event.ImageInput{Data: data, ContentType: it.contentType}, p, nil
	}
	return nil, "", nil
}

func (s *SpoolWatcher) fresh(path string) bool {
	info, err := os.Stat(path)
	return err == nil && s.now().Sub(info.ModTime()) < s.settle
}

func (s *SpoolWatcher) reject(path string, cause error) {
	s.logger.Warn("spool detection rejected", "path", filepath.Base(path), "err", cause)
	_ = s.move(path, RejectedDir)
	if _, imgPath, _ := s.image(path); imgPath != "" {
		_ = s.move(imgPath, RejectedDir)
	}
}

func (s *SpoolWatcher) move(path, sub string) error {
	dst := filepath.Join(s.dir, sub, filepath.Base(path))
	if err := s.rename(path, dst); err != nil {
		s.logger.Warn("move spool file", "path", path, "dst", dst, "err", err)
		return err
	}
	return nil
}
