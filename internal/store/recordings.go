package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// RecordingRepo implements pvr.RecordingManager. File names are relative
// to dir.
type RecordingRepo struct {
	db      *gorm.DB
	log     logger.Logger
	dir     string
	grace   time.Duration
	changes counter
}

var _ pvr.RecordingManager = (*RecordingRepo)(nil)

func (r *RecordingRepo) Recordings() []pvr.Recording {
	return r.list(r.db.Order("start ASC"))
}

func (r *RecordingRepo) Running() []pvr.Recording {
	return r.list(r.db.Where("running = ?", true).Order("start ASC"))
}

func (r *RecordingRepo) list(q *gorm.DB) []pvr.Recording {
	var rows []recordingRow
	if err := q.Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to list recordings")
		return nil
	}
	out := make([]pvr.Recording, len(rows))
	for i := range rows {
		out[i] = rows[i].recording()
	}
	return out
}

func (r *RecordingRepo) Recording(uid uint32) (*pvr.Recording, error) {
	var row recordingRow
	if err := r.db.Where("uid = ?", uid).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pvr.ErrNotFound
		}
		return nil, apperrors.WrapInternalError(err, "looking up recording")
	}
	rec := row.recording()
	return &rec, nil
}

// Rename sets the title shown to clients.
func (r *RecordingRepo) Rename(uid uint32, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty recording name: %w", pvr.ErrInvalid)
	}
	res := r.db.Model(&recordingRow{}).Where("uid = ?", uid).Update("title", name)
	if res.Error != nil {
		return apperrors.WrapInternalError(res.Error, "renaming recording")
	}
	if res.RowsAffected == 0 {
		return pvr.ErrNotFound
	}
	r.changes.bump()
	return nil
}

// Delete removes a finished recording and its file.
func (r *RecordingRepo) Delete(uid uint32) error {
	rec, err := r.Recording(uid)
	if err != nil {
		return err
	}
	if rec.Running {
		return pvr.ErrRecordingRunning
	}
	if err := r.db.Where("uid = ?", uid).Delete(&recordingRow{}).Error; err != nil {
		return apperrors.WrapInternalError(err, "deleting recording")
	}
	if err := os.Remove(r.Path(rec)); err != nil && !os.IsNotExist(err) {
		r.log.WithError(err).WithField("file", rec.FileName).Warn("Failed to remove recording file")
	}
	r.changes.bump()
	return nil
}

// ActiveRecording returns the newest recording of a channel that is still
// being written: flagged running, or its file modified within the grace
// window.
func (r *RecordingRepo) ActiveRecording(channelUID uint32) (*pvr.Recording, bool) {
	var rows []recordingRow
	if err := r.db.Where("channel_uid = ?", channelUID).Order("start DESC").Limit(4).Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to look up active recording")
		return nil, false
	}
	for i := range rows {
		rec := rows[i].recording()
		if rec.Running || r.growing(&rec) {
			rec.Running = true
			return &rec, true
		}
	}
	return nil, false
}

func (r *RecordingRepo) growing(rec *pvr.Recording) bool {
	if r.grace <= 0 {
		return false
	}
	fi, err := os.Stat(r.Path(rec))
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) < r.grace
}

// Add registers a recording.
func (r *RecordingRepo) Add(rec pvr.Recording) error {
	if rec.FileName == "" {
		return fmt.Errorf("recording without file: %w", pvr.ErrInvalid)
	}
	row := recordingToRow(&rec)
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("adding recording: %w", err)
	}
	r.changes.bump()
	return nil
}

// SetRunning marks a recording as being written or finished.
func (r *RecordingRepo) SetRunning(uid uint32, running bool) error {
	res := r.db.Model(&recordingRow{}).Where("uid = ?", uid).Update("running", running)
	if res.Error != nil {
		return apperrors.WrapInternalError(res.Error, "updating recording")
	}
	if res.RowsAffected == 0 {
		return pvr.ErrNotFound
	}
	r.changes.bump()
	return nil
}

// Path returns the absolute file path of rec.
func (r *RecordingRepo) Path(rec *pvr.Recording) string {
	if filepath.IsAbs(rec.FileName) {
		return rec.FileName
	}
	return filepath.Join(r.dir, rec.FileName)
}

func (r *RecordingRepo) ModificationCounter() uint64 { return r.changes.value() }
func (r *RecordingRepo) RecordingsDir() string       { return r.dir }
