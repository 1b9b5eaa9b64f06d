package livesync

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// pure transforms over synchronized collections. no side effects, no network,
// deterministic given inputs.

// FilterAds keeps ads whose title, color, year or formatted price contains
// the query, case-insensitive. an empty query keeps everything.
func FilterAds(ads []*Ad, query string) []*Ad {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]*Ad{}, ads...)
	}

	filtered := []*Ad{}
	for _, ad := range ads {
		fields := []string{
			strings.ToLower(ad.Title),
			strings.ToLower(ad.Color),
			strconv.Itoa(ad.Year),
			FormatPrice(ad.Price),
		}
		for _, field := range fields {
			if strings.Contains(field, query) {
				filtered = append(filtered, ad)
				break
			}
		}
	}
	return filtered
}

// FormatPrice groups thousands with spaces, e.g. 1250000 -> "1 250 000"
func FormatPrice(price int64) string {
	digits := strconv.FormatInt(price, 10)
	negative := false
	if strings.HasPrefix(digits, "-") {
		negative = true
		digits = digits[1:]
	}

	var out strings.Builder
	for i, digit := range digits {
		if 0 < i && (len(digits)-i)%3 == 0 {
			out.WriteByte(' ')
		}
		out.WriteRune(digit)
	}
	if negative {
		return "-" + out.String()
	}
	return out.String()
}

type TimelineItem struct {
	Time    time.Time
	Ad      *Ad
	Message *BroadcastMessage
}

// MergeTimeline interleaves ads and broadcast messages into one feed,
// newest first. ads win ties.
func MergeTimeline(ads []*Ad, messages []*BroadcastMessage) []TimelineItem {
	timeline := make([]TimelineItem, 0, len(ads)+len(messages))
	for _, ad := range ads {
		timeline = append(timeline, TimelineItem{
			Time: ad.CreatedAt,
			Ad:   ad,
		})
	}
	for _, message := range messages {
		timeline = append(timeline, TimelineItem{
			Time:    message.ReceivedAt,
			Message: message,
		})
	}

	sort.SliceStable(timeline, func(i int, j int) bool {
		return timeline[i].Time.After(timeline[j].Time)
	})
	return timeline
}

// a logical biography slot: the advanced (title/description/contact) and
// simple (plain text) variants sharing one group key. a group with only one
// variant present renders only that variant.
type BiographyGroup struct {
	GroupKey string
	Advanced *BiographyEntry
	Simple   *BiographyEntry
}

func (self *BiographyGroup) LatestTime() time.Time {
	latest := time.Time{}
	for _, entry := range []*BiographyEntry{self.Advanced, self.Simple} {
		if entry == nil {
			continue
		}
		entryTime := entry.UpdatedAt
		if entryTime.IsZero() {
			entryTime = entry.CreatedAt
		}
		if latest.Before(entryTime) {
			latest = entryTime
		}
	}
	return latest
}

// GroupBiographies pairs entries by group key. within a group at most one
// advanced and one simple entry exist; if duplicates slip through, the most
// recently updated one wins. groups sort by their latest variant, newest first.
func GroupBiographies(entries []*BiographyEntry) []*BiographyGroup {
	byKey := map[string]*BiographyGroup{}
	order := []string{}
	for _, entry := range entries {
		group, ok := byKey[entry.GroupKey]
		if !ok {
			group = &BiographyGroup{
				GroupKey: entry.GroupKey,
			}
			byKey[entry.GroupKey] = group
			order = append(order, entry.GroupKey)
		}
		if entry.IsAdvanced {
			if group.Advanced == nil || group.Advanced.UpdatedAt.Before(entry.UpdatedAt) {
				group.Advanced = entry
			}
		} else {
			if group.Simple == nil || group.Simple.UpdatedAt.Before(entry.UpdatedAt) {
				group.Simple = entry
			}
		}
	}

	groups := make([]*BiographyGroup, 0, len(byKey))
	for _, groupKey := range order {
		groups = append(groups, byKey[groupKey])
	}
	sort.SliceStable(groups, func(i int, j int) bool {
		return groups[i].LatestTime().After(groups[j].LatestTime())
	})
	return groups
}
