package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// TimerRepo implements pvr.TimerManager.
type TimerRepo struct {
	db      *gorm.DB
	log     logger.Logger
	changes counter
}

var _ pvr.TimerManager = (*TimerRepo)(nil)

func (r *TimerRepo) Timers() []pvr.Timer {
	var rows []timerRow
	if err := r.db.Order("idx ASC").Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to list timers")
		return nil
	}
	out := make([]pvr.Timer, len(rows))
	for i := range rows {
		out[i] = rows[i].timer()
	}
	return out
}

func (r *TimerRepo) Timer(index uint32) (*pvr.Timer, error) {
	var row timerRow
	if err := r.db.Where("idx = ?", index).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pvr.ErrNotFound
		}
		return nil, apperrors.WrapInternalError(err, "looking up timer")
	}
	t := row.timer()
	return &t, nil
}

// Add stores t under the next free index and returns the stored timer.
func (r *TimerRepo) Add(t pvr.Timer) (*pvr.Timer, error) {
	if !t.Stop.After(t.Start) {
		return nil, fmt.Errorf("timer stops before it starts: %w", pvr.ErrInvalid)
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var max struct{ N uint32 }
		if err := tx.Model(&timerRow{}).Select("COALESCE(MAX(idx), 0) AS n").Scan(&max).Error; err != nil {
			return err
		}
		t.Index = max.N + 1
		row := timerToRow(&t)
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, apperrors.WrapInternalError(err, "adding timer")
	}
	r.changes.bump()
	return &t, nil
}

func (r *TimerRepo) Update(t pvr.Timer) error {
	if !t.Stop.After(t.Start) {
		return fmt.Errorf("timer stops before it starts: %w", pvr.ErrInvalid)
	}
	row := timerToRow(&t)
	res := r.db.Model(&timerRow{}).Where("idx = ?", t.Index).
		Select("*").Omit("idx").Updates(&row)
	if res.Error != nil {
		return apperrors.WrapInternalError(res.Error, "updating timer")
	}
	if res.RowsAffected == 0 {
		return pvr.ErrNotFound
	}
	r.changes.bump()
	return nil
}

func (r *TimerRepo) Delete(index uint32, force bool) error {
	t, err := r.Timer(index)
	if err != nil {
		return err
	}
	if t.Recording && !force {
		return pvr.ErrRecordingRunning
	}
	if err := r.db.Where("idx = ?", index).Delete(&timerRow{}).Error; err != nil {
		return fmt.Errorf("deleting timer %d: %w", index, err)
	}
	r.changes.bump()
	return nil
}

// SetRecording flags the timer as currently recording.
func (r *TimerRepo) SetRecording(index uint32, recording bool) error {
	res := r.db.Model(&timerRow{}).Where("idx = ?", index).Update("recording", recording)
	if res.Error != nil {
		return apperrors.WrapInternalError(res.Error, "updating timer")
	}
	if res.RowsAffected == 0 {
		return pvr.ErrNotFound
	}
	r.changes.bump()
	return nil
}

func (r *TimerRepo) ModificationCounter() uint64 { return r.changes.value() }
