package livesync

import (
	"time"
)

// merge semantics are last-write-wins per field. zero-valued fields in a
// partial update leave the existing value in place, and the view counter
// never decreases.

func AdSyncAdapter() *SyncAdapter[*Ad] {
	return &SyncAdapter[*Ad]{
		ItemId: func(ad *Ad) int64 {
			return ad.Id
		},
		CreatedTime: func(ad *Ad) time.Time {
			return ad.CreatedAt
		},
		Merge: mergeAd,
		Counter: func(ad *Ad) int64 {
			return ad.ViewCount
		},
		WithCounter: func(ad *Ad, value int64) *Ad {
			next := *ad
			next.ViewCount = value
			return &next
		},
	}
}

func mergeAd(existing *Ad, update *Ad) *Ad {
	next := *existing
	if update.OwnerId != 0 {
		next.OwnerId = update.OwnerId
	}
	if update.Title != "" {
		next.Title = update.Title
	}
	if update.Year != 0 {
		next.Year = update.Year
	}
	if update.Color != "" {
		next.Color = update.Color
	}
	if update.Mileage != 0 {
		next.Mileage = update.Mileage
	}
	if update.Price != 0 {
		next.Price = update.Price
	}
	if update.Gearbox != "" {
		next.Gearbox = update.Gearbox
	}
	if update.InsuranceMonths != 0 {
		next.InsuranceMonths = update.InsuranceMonths
	}
	if update.Chassis != "" {
		next.Chassis = update.Chassis
	}
	if update.ContactPhone != "" {
		next.ContactPhone = update.ContactPhone
	}
	if update.Description != "" {
		next.Description = update.Description
	}
	if next.ViewCount < update.ViewCount {
		next.ViewCount = update.ViewCount
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = update.CreatedAt
	}
	return &next
}

func BiographySyncAdapter() *SyncAdapter[*BiographyEntry] {
	return &SyncAdapter[*BiographyEntry]{
		ItemId: func(entry *BiographyEntry) int64 {
			return entry.Id
		},
		CreatedTime: func(entry *BiographyEntry) time.Time {
			return entry.CreatedAt
		},
		Merge: mergeBiography,
	}
}

func mergeBiography(existing *BiographyEntry, update *BiographyEntry) *BiographyEntry {
	next := *existing
	if update.OwnerId != 0 {
		next.OwnerId = update.OwnerId
	}
	if update.GroupKey != "" {
		next.GroupKey = update.GroupKey
	}
	// the variant flag is part of the entry's identity and never flips
	if update.Title != "" {
		next.Title = update.Title
	}
	if update.Description != "" {
		next.Description = update.Description
	}
	if update.Contact != "" {
		next.Contact = update.Contact
	}
	if update.Text != "" {
		next.Text = update.Text
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = update.CreatedAt
	}
	if next.UpdatedAt.Before(update.UpdatedAt) {
		next.UpdatedAt = update.UpdatedAt
	}
	return &next
}
