package store

import (
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/pvr"
)

// ChannelRepo implements pvr.ChannelManager.
type ChannelRepo struct {
	db      *gorm.DB
	log     logger.Logger
	changes counter
}

var _ pvr.ChannelManager = (*ChannelRepo)(nil)

// Lookup returns the channel with the given UID.
func (r *ChannelRepo) Lookup(uid uint32) (*pvr.Channel, error) {
	return r.first("uid = ?", uid)
}

// LookupByNumber returns the channel with the given number.
func (r *ChannelRepo) LookupByNumber(number int) (*pvr.Channel, error) {
	return r.first("number = ?", number)
}

func (r *ChannelRepo) first(query string, arg interface{}) (*pvr.Channel, error) {
	var row channelRow
	if err := r.db.Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pvr.ErrNotFound
		}
		return nil, apperrors.WrapInternalError(err, "looking up channel")
	}
	ch := row.channel()
	return &ch, nil
}

// Snapshot returns all channels ordered by number.
func (r *ChannelRepo) Snapshot() []pvr.Channel {
	var rows []channelRow
	if err := r.db.Order("number ASC, uid ASC").Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to list channels")
		return nil
	}
	out := make([]pvr.Channel, len(rows))
	for i := range rows {
		out[i] = rows[i].channel()
	}
	return out
}

// Groups returns the channel groups of TV or radio channels, sorted by name.
func (r *ChannelRepo) Groups(radio bool) []pvr.ChannelGroup {
	var rows []channelRow
	if err := r.db.Select("group_names").Where("radio = ?", radio).Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to list channel groups")
		return nil
	}
	seen := make(map[string]bool)
	var out []pvr.ChannelGroup
	for _, row := range rows {
		for _, g := range row.Groups {
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			out = append(out, pvr.ChannelGroup{Name: g, Radio: radio})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModificationCounter changes whenever the lineup or its filters change.
func (r *ChannelRepo) ModificationCounter() uint64 { return r.changes.value() }

// Replace swaps the whole lineup.
func (r *ChannelRepo) Replace(channels []pvr.Channel) error {
	rows := make([]channelRow, len(channels))
	for i := range channels {
		rows[i] = channelToRow(&channels[i])
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&channelRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return fmt.Errorf("replacing channels: %w", err)
	}
	r.changes.bump()
	return nil
}

// Save inserts or updates one channel.
func (r *ChannelRepo) Save(ch *pvr.Channel) error {
	row := channelToRow(ch)
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("saving channel: %w", err)
	}
	r.changes.bump()
	return nil
}

// Whitelist returns the providers clients may see.
func (r *ChannelRepo) Whitelist() []pvr.Provider {
	var rows []providerRow
	if err := r.db.Order("id ASC").Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to read provider whitelist")
		return nil
	}
	out := make([]pvr.Provider, len(rows))
	for i, row := range rows {
		out[i] = pvr.Provider{Name: row.Name, CAID: row.CAID}
	}
	return out
}

// SetWhitelist replaces the provider whitelist.
func (r *ChannelRepo) SetWhitelist(providers []pvr.Provider) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&providerRow{}).Error; err != nil {
			return err
		}
		for _, p := range providers {
			if err := tx.Create(&providerRow{Name: p.Name, CAID: p.CAID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapInternalError(err, "storing whitelist")
	}
	r.changes.bump()
	return nil
}

// Blacklist returns the UIDs of hidden channels.
func (r *ChannelRepo) Blacklist() []uint32 {
	var rows []blacklistRow
	if err := r.db.Order("uid ASC").Find(&rows).Error; err != nil {
		r.log.WithError(err).Error("Failed to read channel blacklist")
		return nil
	}
	out := make([]uint32, len(rows))
	for i, row := range rows {
		out[i] = row.UID
	}
	return out
}

// SetBlacklist replaces the channel blacklist.
func (r *ChannelRepo) SetBlacklist(uids []uint32) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&blacklistRow{}).Error; err != nil {
			return err
		}
		seen := make(map[uint32]bool, len(uids))
		for _, uid := range uids {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			if err := tx.Create(&blacklistRow{UID: uid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapInternalError(err, "storing blacklist")
	}
	r.changes.bump()
	return nil
}
