package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// ScheduleRepo implements pvr.ScheduleManager.
type ScheduleRepo struct {
	db      *gorm.DB
	log     logger.Logger
	changes counter
}

var _ pvr.ScheduleManager = (*ScheduleRepo)(nil)

// Events returns the events of a channel overlapping [start, start+duration).
// A zero duration returns everything from start on.
func (r *ScheduleRepo) Events(channelUID uint32, start time.Time, duration time.Duration) []pvr.Event {
	q := r.db.Where("channel_uid = ?", channelUID)
	if duration > 0 {
		q = q.Where("start < ?", start.Add(duration))
	}
	var rows []eventRow
	if err := q.Order("start ASC").Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to read events")
		return nil
	}
	out := make([]pvr.Event, 0, len(rows))
	for i := range rows {
		ev := rows[i].event()
		if !ev.End().After(start) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// LastEventStart returns the start of the latest event known for a channel.
func (r *ScheduleRepo) LastEventStart(channelUID uint32) (time.Time, bool) {
	var row eventRow
	err := r.db.Where("channel_uid = ?", channelUID).Order("start DESC").Limit(1).Find(&row).Error
	if err != nil || row.RowID == 0 {
		return time.Time{}, false
	}
	return row.Start, true
}

// ModificationStamp changes whenever any schedule changes.
func (r *ScheduleRepo) ModificationStamp() uint64 { return r.changes.value() }

// Replace swaps the schedule of one channel.
func (r *ScheduleRepo) Replace(channelUID uint32, events []pvr.Event) error {
	rows := make([]eventRow, len(events))
	for i := range events {
		events[i].ChannelUID = channelUID
		rows[i] = eventToRow(&events[i])
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_uid = ?", channelUID).Delete(&eventRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return fmt.Errorf("replacing schedule of %d: %w", channelUID, err)
	}
	r.changes.bump()
	return nil
}
