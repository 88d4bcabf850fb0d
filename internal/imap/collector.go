package imap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/vdavid/mailingest/internal/models"
)

// Collect consumes a fetch stream and returns one record per message, newest
// first. Each message gets its own Assembler keyed by sequence number, so
// interleaved events never mix. Messages still open when the channel closes
// are completed with what arrived. If ctx ends first, everything collected so
// far is discarded and the context error is returned.
func Collect(ctx context.Context, events <-chan Event, cfg AssemblerConfig) ([]models.EmailRecord, error) {
	assemblers := make(map[uint32]*Assembler)
	records := []models.EmailRecord{}

	emit := func(seqNum uint32, a *Assembler) {
		record, err := a.Emit()
		if err != nil {
			log.Warn().Err(err).Uint32("seq", seqNum).Msg("Failed to emit message")
			return
		}
		records = append(records, record)
	}

	for {
		var event Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to collect messages: %w", ctx.Err())
		case event, ok = <-events:
		}

		if !ok {
			// Finish in sequence order for a deterministic result.
			for _, seqNum := range slices.Sorted(maps.Keys(assemblers)) {
				a := assemblers[seqNum]
				if a.State() < StateEmitted {
					emit(seqNum, a)
				}
			}
			SortRecords(records)
			return records, nil
		}

		a, exists := assemblers[event.SeqNum]
		if !exists {
			a = NewAssembler(event.SeqNum, cfg)
			assemblers[event.SeqNum] = a
		}

		if err := applyEvent(a, event); err != nil {
			logger := log.Warn()
			if errors.Is(err, ErrDuplicatePart) {
				logger = log.Debug()
			}
			logger.Err(err).Uint32("seq", event.SeqNum).Str("event", event.Type.String()).Msg("Ignoring event")
			continue
		}
		if event.Type == EventEnd {
			emit(event.SeqNum, a)
		}
	}
}

func applyEvent(a *Assembler, event Event) error {
	switch event.Type {
	case EventAttributes:
		return a.SetAttributes(event.Attributes)
	case EventBody:
		if event.Part == nil {
			return nil
		}
		return a.AddPart(*event.Part)
	case EventEnd:
		return a.Complete()
	}
	return fmt.Errorf("unknown event type %d", event.Type)
}

// SortRecords orders records by ReceivedAt, newest first, and by UID
// descending for equal timestamps.
func SortRecords(records []models.EmailRecord) {
	slices.SortStableFunc(records, func(a, b models.EmailRecord) int {
		if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.UID, a.UID)
	})
}
