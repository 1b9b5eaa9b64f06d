package livesync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testMessage(messageId string, receivedAt time.Time) *BroadcastMessage {
	return &BroadcastMessage{
		MessageId:  messageId,
		Text:       "hello",
		SenderName: "Dealer News",
		ReceivedAt: receivedAt,
	}
}

func TestFeedDedupesByMessageId(t *testing.T) {
	feed := NewMessageFeed()

	changes := 0
	dispose := feed.AddChangeCallback(func() {
		changes += 1
	})
	defer dispose()

	feed.Add(testMessage("m1", testTime(10)))
	feed.Add(testMessage("m1", testTime(20)))
	feed.Add(testMessage("m2", testTime(30)))

	assert.Equal(t, 2, feed.Len())
	assert.Equal(t, 2, changes)
}

func TestFeedDropsMessagesWithoutOriginId(t *testing.T) {
	feed := NewMessageFeed()

	feed.Add(nil)
	feed.Add(testMessage("", testTime(10)))

	assert.Equal(t, 0, feed.Len())
}

func TestFeedMessagesNewestFirst(t *testing.T) {
	feed := NewMessageFeed()

	feed.Add(testMessage("m1", testTime(10)))
	feed.Add(testMessage("m2", testTime(30)))
	feed.Add(testMessage("m3", testTime(20)))

	messages := feed.Messages()
	assert.Equal(t, 3, len(messages))
	assert.Equal(t, "m2", messages[0].MessageId)
	assert.Equal(t, "m3", messages[1].MessageId)
	assert.Equal(t, "m1", messages[2].MessageId)

	// the returned slice is a copy
	messages[0] = nil
	assert.Equal(t, "m2", feed.Messages()[0].MessageId)
}

func TestFeedResetClearsSuppression(t *testing.T) {
	feed := NewMessageFeed()

	feed.Add(testMessage("m1", testTime(10)))
	feed.Reset()
	assert.Equal(t, 0, feed.Len())

	// a previously seen id is accepted again after a reset
	feed.Add(testMessage("m1", testTime(20)))
	assert.Equal(t, 1, feed.Len())
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2024, 6, 15, 23, 59, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), nextMidnight(now))

	// month rollover
	endOfMonth := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), nextMidnight(endOfMonth))
}
