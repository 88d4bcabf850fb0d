package imap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailingest/internal/models"
)

func attrsEvent(seqNum, uid uint32) Event {
	return Event{SeqNum: seqNum, Type: EventAttributes, Attributes: &Attributes{UID: uid}}
}

func bodyEvent(seqNum uint32, part RawMessagePart) Event {
	return Event{SeqNum: seqNum, Type: EventBody, Part: &part}
}

func endEvent(seqNum uint32) Event {
	return Event{SeqNum: seqNum, Type: EventEnd}
}

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, event := range events {
		ch <- event
	}
	close(ch)
	return ch
}

func recordByUID(t *testing.T, records []models.EmailRecord, uid uint32) models.EmailRecord {
	t.Helper()
	for _, record := range records {
		if record.UID == uid {
			return record
		}
	}
	t.Fatalf("no record with UID %d", uid)
	return models.EmailRecord{}
}

func TestCollect(t *testing.T) {
	t.Run("interleaved messages do not mix", func(t *testing.T) {
		events := feed(
			attrsEvent(1, 11),
			attrsEvent(2, 12),
			bodyEvent(1, textPart("body of A")),
			bodyEvent(2, headerPart("Subject: Subject B\r\nDate: Tue, 1 Jul 2025 10:00:00 +0000\r\n")),
			bodyEvent(1, htmlPart("2", "<p>html of A</p>")),
			bodyEvent(2, textPart("body of B")),
			bodyEvent(1, headerPart("Subject: Subject A\r\nDate: Tue, 1 Jul 2025 09:00:00 +0000\r\n")),
			endEvent(2),
			endEvent(1),
		)

		records, err := Collect(context.Background(), events, testAssemblerConfig())
		require.NoError(t, err)
		require.Len(t, records, 2)

		a := recordByUID(t, records, 11)
		assert.Equal(t, "Subject A", a.Subject)
		assert.Equal(t, "body of A", a.TextContent)
		assert.Equal(t, "<p>html of A</p>", a.HTMLContent)

		b := recordByUID(t, records, 12)
		assert.Equal(t, "Subject B", b.Subject)
		assert.Equal(t, "body of B", b.TextContent)
		assert.Empty(t, b.HTMLContent)
	})

	t.Run("orders the batch newest first", func(t *testing.T) {
		dated := func(seqNum, uid uint32, date string) []Event {
			return []Event{
				attrsEvent(seqNum, uid),
				bodyEvent(seqNum, headerPart("Date: "+date+"\r\n")),
				endEvent(seqNum),
			}
		}
		var all []Event
		all = append(all, dated(1, 1, "Tue, 1 Jul 2025 10:00:00 +0000")...)
		all = append(all, dated(2, 2, "Mon, 30 Jun 2025 10:00:00 +0000")...)
		all = append(all, dated(3, 3, "Wed, 2 Jul 2025 10:00:00 +0000")...)

		records, err := Collect(context.Background(), feed(all...), testAssemblerConfig())
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, uint32(3), records[0].UID)
		assert.Equal(t, uint32(1), records[1].UID)
		assert.Equal(t, uint32(2), records[2].UID)
	})

	t.Run("messages without end event are finished on close", func(t *testing.T) {
		events := feed(
			attrsEvent(1, 21),
			bodyEvent(1, textPart("partial")),
		)

		records, err := Collect(context.Background(), events, testAssemblerConfig())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "partial", records[0].TextContent)
		assert.Equal(t, "Unknown", records[0].Subject)
	})

	t.Run("duplicate parts and events after end are ignored", func(t *testing.T) {
		events := feed(
			attrsEvent(1, 31),
			bodyEvent(1, textPart("first")),
			bodyEvent(1, textPart("second")),
			endEvent(1),
			bodyEvent(1, htmlPart("2", "<p>late</p>")),
			endEvent(1),
		)

		records, err := Collect(context.Background(), events, testAssemblerConfig())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "first", records[0].TextContent)
		assert.Empty(t, records[0].HTMLContent)
	})

	t.Run("empty stream yields an empty batch", func(t *testing.T) {
		records, err := Collect(context.Background(), feed(), testAssemblerConfig())
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("timeout discards everything", func(t *testing.T) {
		events := make(chan Event, 4)
		events <- attrsEvent(1, 41)
		events <- bodyEvent(1, textPart("done"))
		events <- endEvent(1)
		events <- attrsEvent(2, 42)
		// Never closed: the second message stays open until the deadline.

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		records, err := Collect(ctx, events, testAssemblerConfig())
		assert.Nil(t, records)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestSortRecords(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC) }
	records := []models.EmailRecord{
		{UID: 1, ReceivedAt: day(2)},
		{UID: 5, ReceivedAt: day(1)},
		{UID: 2, ReceivedAt: day(2)},
		{UID: 3, ReceivedAt: day(3)},
	}

	SortRecords(records)

	uids := make([]uint32, len(records))
	for i, record := range records {
		uids[i] = record.UID
	}
	assert.Equal(t, []uint32{3, 2, 1, 5}, uids)
}
