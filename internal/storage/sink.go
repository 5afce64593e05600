package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vitalink/telecare/internal/domain"
)

// RecordStore is the persistence seam the sink worker writes through.
type RecordStore interface {
	AppendChatMessage(ctx context.Context, room domain.RoomID, msg domain.ChatMessage) error
	AppendTranscription(ctx context.Context, room domain.RoomID, entry domain.TranscriptionEntry) error
}

type record struct {
	room       domain.RoomID
	chat       *domain.ChatMessage
	transcript *domain.TranscriptionEntry
}

// SinkWorker implements core.Sink. Appends are queued and written by a
// single goroutine, so entries for one room land in enqueue order and
// the relay path never blocks on the database. A full queue drops the
// entry: delivery to peers already happened and is not rolled back.
type SinkWorker struct {
	store RecordStore
	queue chan record
	done  chan struct{}
}

func NewSinkWorker(store RecordStore, buffer int) *SinkWorker {
	if buffer <= 0 {
		buffer = 64
	}
	return &SinkWorker{
		store: store,
		queue: make(chan record, buffer),
		done:  make(chan struct{}),
	}
}

// Done closes once Run has flushed the queue and returned. Shutdown
// must wait on it before closing the database pool.
func (w *SinkWorker) Done() <-chan struct{} { return w.done }

func (w *SinkWorker) AppendChat(room domain.RoomID, msg domain.ChatMessage) {
	w.push(record{room: room, chat: &msg})
}

func (w *SinkWorker) AppendTranscription(room domain.RoomID, entry domain.TranscriptionEntry) {
	w.push(record{room: room, transcript: &entry})
}

func (w *SinkWorker) push(rec record) {
	select {
	case w.queue <- rec:
	default:
		log.Warn().Str("module", "storage.sink").Str("room", string(rec.room)).
			Msg("sink queue full, entry dropped")
	}
}

// Run drains the queue until ctx is canceled, then flushes whatever is
// still pending before returning.
func (w *SinkWorker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.flush()
			log.Info().Str("module", "storage.sink").Msg("sink worker stopped")
			return
		case rec := <-w.queue:
			w.write(rec)
		}
	}
}

func (w *SinkWorker) flush() {
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
		default:
			return
		}
	}
}

func (w *SinkWorker) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case rec.chat != nil:
		err = w.store.AppendChatMessage(ctx, rec.room, *rec.chat)
	case rec.transcript != nil:
		err = w.store.AppendTranscription(ctx, rec.room, *rec.transcript)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "storage.sink").
			Str("room", string(rec.room)).Msg("append failed")
	}
}
