package imap

import (
	"bytes"
	"context"
	"errors"

	"github.com/vdavid/mailingest/internal/models"
)

// errNoRecord is returned when a raw message produced no record.
var errNoRecord = errors.New("no record assembled")

// AssembleRaw turns one raw RFC 5322 message into a record by streaming it
// through Collect the way a fetch would: as HEADER and TEXT sections, or as
// the whole message when strict is set.
func AssembleRaw(ctx context.Context, raw []byte, strict bool, cfg AssemblerConfig) (models.EmailRecord, error) {
	events := make(chan Event, 4)
	events <- Event{SeqNum: 1, Type: EventAttributes, Attributes: &Attributes{Size: uint32(len(raw))}}
	if strict {
		events <- Event{SeqNum: 1, Type: EventBody, Part: &RawMessagePart{Which: "", Kind: PartMessage, Body: raw}}
	} else {
		header, body := splitMessage(raw)
		events <- Event{SeqNum: 1, Type: EventBody, Part: &RawMessagePart{Which: "HEADER", Kind: PartHeader, Body: header}}
		events <- Event{SeqNum: 1, Type: EventBody, Part: &RawMessagePart{Which: "TEXT", Kind: PartText, Body: body}}
	}
	events <- Event{SeqNum: 1, Type: EventEnd}
	close(events)

	records, err := Collect(ctx, events, cfg)
	if err != nil {
		return models.EmailRecord{}, err
	}
	if len(records) == 0 {
		return models.EmailRecord{}, errNoRecord
	}
	return records[0], nil
}

// splitMessage splits a message at the first blank line. A message without
// one is all header.
func splitMessage(raw []byte) (header, body []byte) {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i >= 0 {
			return raw[:i], raw[i+len(sep):]
		}
	}
	return raw, nil
}
