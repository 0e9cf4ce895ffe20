// Package scheduler moves aged local files to the object store and refreshes
// the master record spreadsheets.
//
// A cycle never deletes a local file unless its current version is recorded
// in the ledger as uploaded. Files younger than the grace window are left
// alone because the live request path may still be writing or uploading
// them. Each target and each export kind is processed independently: one
// failing never stops the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/filex"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/queue"
	"github.com/voyagehub/assetsync/internal/repositories/ledger"
	"github.com/voyagehub/assetsync/internal/repositories/records"
	"github.com/voyagehub/assetsync/internal/storage"
)

const DefaultGraceWindow = time.Hour

// ErrCycleRunning is returned when a cycle is requested while one is still
// in progress.
var ErrCycleRunning = errors.New("sync cycle already running")

// Target is one local directory mirrored into a logical storage location.
type Target struct {
	LocalDirectory string
	StorageKey     string
	RetentionDays  int
}

// Storage is what the scheduler needs from storage.Service.
type Storage interface {
	ResolveFolder(ctx context.Context, logicalKey string) (string, error)
	FolderPath(ctx context.Context, rootID string, segments ...string) (string, error)
	UploadFileAsync(ctx context.Context, folderID, localPath, fileName, mimeType string, vis storage.Visibility) *queue.Future[storage.UploadResult]
	Replace(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis storage.Visibility) (storage.UploadResult, error)
}

// TargetReport summarises one target in one cycle.
type TargetReport struct {
	Directory string
	Scanned   int
	Skipped   int // inside the grace window
	Uploaded  int
	Deleted   int
	Failed    int
	Err       error // target-level failure, e.g. unreadable directory
}

// CycleReport summarises one cycle.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Targets   []TargetReport
	Exports   []ExportReport
}

// Failed reports whether anything in the cycle failed.
func (r CycleReport) Failed() bool {
	for _, t := range r.Targets {
		if t.Err != nil || t.Failed > 0 {
			return true
		}
	}
	for _, e := range r.Exports {
		if e.Err != nil {
			return true
		}
	}
	return false
}

type Scheduler struct {
	storage Storage
	ledger  ledger.Repository
	records records.Repository
	targets []Target
	log     logging.Logger

	grace       time.Duration
	exportKey   string
	exportKinds []records.Kind
	now         func() time.Time

	running sync.Mutex
}

type Option func(*Scheduler)

func WithGraceWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithExports enables spreadsheet exports of kinds into the folder of
// storageKey. It needs a records repository.
func WithExports(rec records.Repository, storageKey string, kinds ...records.Kind) Option {
	return func(s *Scheduler) {
		s.records = rec
		s.exportKey = storageKey
		s.exportKinds = kinds
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(st Storage, led ledger.Repository, targets []Target, log logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		storage: st,
		ledger:  led,
		targets: targets,
		log:     log.With("module", "scheduler"),
		grace:   DefaultGraceWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a cycle immediately and then every interval until ctx ends.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	s.log.Info(ctx, "scheduler started", "interval", interval.String(), "targets", len(s.targets))

	s.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.log.Info(ctx, "scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.RunSyncCycle(ctx)
	if err != nil {
		s.log.Warn(ctx, "sync cycle not run", "error", err)
		return
	}
	if report.Failed() {
		s.log.Warn(ctx, "sync cycle finished with failures", "duration", report.Duration.String())
	}
}

// RunSyncCycle processes every target and then the exports. Failures are
// reported per target and per export; the returned error is only
// ErrCycleRunning.
func (s *Scheduler) RunSyncCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Unlock()

	report := CycleReport{StartedAt: s.now()}
	for _, t := range s.targets {
		tr := s.syncTarget(ctx, t)
		if tr.Err != nil {
			s.log.Error(ctx, "sync target failed", "dir", t.LocalDirectory, "key", t.StorageKey, "error", tr.Err)
		}
		report.Targets = append(report.Targets, tr)
	}
	report.Exports = s.runExports(ctx)
	report.Duration = s.now().Sub(report.StartedAt)

	s.log.Info(ctx, "sync cycle finished", "targets", len(report.Targets), "exports", len(report.Exports), "duration", report.Duration.String())
	return report, nil
}

type pendingUpload struct {
	file   filex.LocalFile
	future *queue.Future[storage.UploadResult]
}

func (s *Scheduler) syncTarget(ctx context.Context, t Target) TargetReport {
	tr := TargetReport{Directory: t.LocalDirectory}

	files, err := filex.ListFiles(t.LocalDirectory)
	if err != nil {
		tr.Err = err
		return tr
	}
	tr.Scanned = len(files)
	if len(files) == 0 {
		return tr
	}

	rootID, err := s.storage.ResolveFolder(ctx, t.StorageKey)
	if err != nil {
		tr.Err = fmt.Errorf("resolve %s: %w", t.StorageKey, err)
		return tr
	}

	now := s.now()
	retention := time.Duration(t.RetentionDays) * 24 * time.Hour

	var pending []pendingUpload
	for _, f := range files {
		age := f.Age(now)
		if age < s.grace {
			tr.Skipped++
			continue
		}

		confirmed, err := s.confirmed(ctx, f)
		if err != nil {
			s.log.Warn(ctx, "ledger lookup failed", "file", f.Path, "error", err)
			tr.Failed++
			continue
		}
		if confirmed {
			if age >= retention && s.removeLocal(ctx, f) {
				tr.Deleted++
			}
			continue
		}

		folderID, err := s.storage.FolderPath(ctx, rootID, folderSegments(f)...)
		if err != nil {
			s.log.Warn(ctx, "resolve upload folder failed", "file", f.Path, "error", err)
			tr.Failed++
			continue
		}
		pending = append(pending, pendingUpload{
			file:   f,
			future: s.storage.UploadFileAsync(ctx, folderID, f.Path, f.Name, detectMime(f.Path), storage.Private),
		})
	}

	for _, p := range pending {
		res, err := p.future.Wait(ctx)
		if err != nil {
			s.log.Warn(ctx, "upload failed, file kept for next cycle", "file", p.file.Path, "kind", kindName(err), "error", err)
			tr.Failed++
			continue
		}

		entry := &ledger.Entry{
			Path:       p.file.Path,
			SizeBytes:  p.file.Size,
			ModTime:    p.file.ModTime,
			ObjectID:   res.ObjectID,
			UploadedAt: s.now(),
		}
		if err := s.ledger.MarkUploaded(ctx, entry); err != nil {
			s.log.Error(ctx, "uploaded but not recorded, file kept", "file", p.file.Path, "object", res.ObjectID, "error", err)
			tr.Failed++
			continue
		}
		tr.Uploaded++
		s.log.Debug(ctx, "file uploaded", "file", p.file.Path, "object", res.ObjectID)

		if p.file.Age(now) >= retention && s.removeLocal(ctx, p.file) {
			tr.Deleted++
		}
	}
	return tr
}

// confirmed reports whether the current version of f is recorded as
// uploaded and still present locally.
func (s *Scheduler) confirmed(ctx context.Context, f filex.LocalFile) (bool, error) {
	e, err := s.ledger.Get(ctx, f.Path)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.LocalDeleted && e.Matches(f.Size, f.ModTime), nil
}

func (s *Scheduler) removeLocal(ctx context.Context, f filex.LocalFile) bool {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warn(ctx, "local delete failed", "file", f.Path, "error", err)
		return false
	}
	if err := s.ledger.MarkLocalDeleted(ctx, f.Path); err != nil {
		s.log.Warn(ctx, "local delete not recorded", "file", f.Path, "error", err)
	}
	s.log.Info(ctx, "local file removed after upload", "file", f.Path)
	return true
}

// folderSegments files uploads by month of modification, keeping the
// local sub-directory layout below it.
func folderSegments(f filex.LocalFile) []string {
	segs := []string{f.ModTime.Format("2006-01")}
	return append(segs, storage.SplitPath(f.RelDir)...)
}

func detectMime(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}

func kindName(err error) string {
	if k := common.KindOf(err); k != nil {
		return k.Error()
	}
	return "unknown"
}
