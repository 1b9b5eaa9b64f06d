package livesync

import (
	"encoding/json"

	"github.com/golang/glog"
)

// named events delivered over the push channel. payloads are the entity
// JSON representations, or the small id/count records below.

const (
	EventAdCreated = "ad-created"
	EventAdUpdated = "ad-updated"
	EventAdDeleted = "ad-deleted"
	EventAdViewed  = "ad-viewed"

	EventBiographySaved   = "biography-saved"
	EventBiographyDeleted = "biography-deleted"

	EventBroadcastMessage = "broadcast-message"
)

type deletedPayload struct {
	Id int64 `json:"id"`
}

type viewedPayload struct {
	Id        int64 `json:"id"`
	ViewCount int64 `json:"viewCount"`
}

// BindAdEvents routes ad push events into the synchronizer.
// the returned func removes every registration.
func BindAdEvents(manager *ChannelManager, ads *Synchronizer[*Ad]) func() {
	disposers := []func(){
		manager.On(EventAdCreated, func(topic string, data json.RawMessage) {
			var ad Ad
			if err := json.Unmarshal(data, &ad); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventAdCreated, err)
				return
			}
			ads.ApplyCreate(&ad)
		}),
		manager.On(EventAdUpdated, func(topic string, data json.RawMessage) {
			var ad Ad
			if err := json.Unmarshal(data, &ad); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventAdUpdated, err)
				return
			}
			ads.ApplyUpdate(&ad)
		}),
		manager.On(EventAdDeleted, func(topic string, data json.RawMessage) {
			var payload deletedPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventAdDeleted, err)
				return
			}
			ads.ApplyDelete(payload.Id)
		}),
		manager.On(EventAdViewed, func(topic string, data json.RawMessage) {
			var payload viewedPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventAdViewed, err)
				return
			}
			ads.ApplyCounterUpdate(payload.Id, payload.ViewCount)
		}),
	}
	return disposeAll(disposers)
}

// BindBiographyEvents routes biography push events into the synchronizer.
// saves arrive as the full entry and apply as an upsert, so a save that races
// the initial bulk fetch still merges over the snapshot's older version.
func BindBiographyEvents(manager *ChannelManager, biographies *Synchronizer[*BiographyEntry]) func() {
	disposers := []func(){
		manager.On(EventBiographySaved, func(topic string, data json.RawMessage) {
			var entry BiographyEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventBiographySaved, err)
				return
			}
			biographies.ApplyUpsert(&entry)
		}),
		manager.On(EventBiographyDeleted, func(topic string, data json.RawMessage) {
			var payload deletedPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				glog.V(1).Infof("[ev]drop %s = %s\n", EventBiographyDeleted, err)
				return
			}
			biographies.ApplyDelete(payload.Id)
		}),
	}
	return disposeAll(disposers)
}

// BindBroadcastEvents appends inbound broadcast messages to the feed
func BindBroadcastEvents(manager *ChannelManager, feed *MessageFeed) func() {
	return manager.On(EventBroadcastMessage, func(topic string, data json.RawMessage) {
		var message BroadcastMessage
		if err := json.Unmarshal(data, &message); err != nil {
			glog.V(1).Infof("[ev]drop %s = %s\n", EventBroadcastMessage, err)
			return
		}
		feed.Add(&message)
	})
}

func disposeAll(disposers []func()) func() {
	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}
