package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/pvr"
)

// Setup value names understood by clients.
const (
	SetupTimeshift              = "Timeshift"
	SetupTimeshiftBufferSize    = "TimeshiftBufferSize"
	SetupTimeshiftBufferFile    = "TimeshiftBufferFileSize"
	SetupPlayRecording          = "PlayRecording"
	SetupAvoidEPGScan           = "AvoidEPGScan"
	SetupDisableScrambleTimeout = "DisableScrambleTimeout"
	SetupDisableCamBlacklist    = "DisableCamBlacklist"
	SetupEdlMode                = "EdlMode"
)

var setupDefaults = map[string]uint32{
	SetupTimeshift:              0,
	SetupTimeshiftBufferSize:    5,
	SetupTimeshiftBufferFile:    6,
	SetupPlayRecording:          0,
	SetupAvoidEPGScan:           1,
	SetupDisableScrambleTimeout: 0,
	SetupDisableCamBlacklist:    0,
	SetupEdlMode:                0,
}

// SetupRepo implements pvr.SetupStore. Only known names are accepted.
type SetupRepo struct {
	db *gorm.DB
}

var _ pvr.SetupStore = (*SetupRepo)(nil)

func (r *SetupRepo) seedDefaults() error {
	for name, value := range setupDefaults {
		row := setupRow{Name: name, Value: value}
		if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seeding setup %s: %w", name, err)
		}
	}
	return nil
}

func (r *SetupRepo) Get(name string) (uint32, error) {
	var row setupRow
	if err := r.db.Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pvr.ErrNotFound
		}
		return 0, apperrors.WrapInternalError(err, "reading setup")
	}
	return row.Value, nil
}

func (r *SetupRepo) Set(name string, value uint32) error {
	if _, ok := setupDefaults[name]; !ok {
		return pvr.ErrNotFound
	}
	row := setupRow{Name: name, Value: value}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return apperrors.WrapInternalError(err, "storing setup")
	}
	return nil
}
