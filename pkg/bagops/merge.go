package bagops

import (
	"context"
	"fmt"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/fileutil"
	"github.com/bagworks/gobag/pkg/mcap"
)

// MergeOptions shape the merged output file.
type MergeOptions struct {
	// ChunkSize and Compression follow the FilterOptions conventions.
	ChunkSize   int64
	Compression string
}

// Merge combines the inputs into one file. Schemas identical in name,
// encoding, and definition collapse to a single record; channels are
// renumbered so ids never collide, with an identical (schema, topic,
// encoding) binding across inputs mapping to one output channel; message
// sequence numbers restart from 0 per output channel. Each input's messages
// keep their file order; inputs are concatenated in argument order.
func Merge(ctx context.Context, inputs []string, out string, opts MergeOptions) error {
	ctx = logctx.WithStr(ctx, "op", "merge")
	log := logctx.FromContext(ctx)

	if len(inputs) == 0 {
		return fmt.Errorf("merge: no input files")
	}
	for _, in := range inputs {
		if samePath(in, out) {
			return fmt.Errorf("%w: %s", ErrSameFile, out)
		}
	}

	sequences := map[uint16]uint32{}
	var total uint64

	err := fileutil.WriteTmpThenMove(out, func(tmpPath string) error {
		var w *mcap.Writer

		for _, in := range inputs {
			r, err := mcap.OpenFile(in, mcap.ReaderOptions{Logger: log})
			if err != nil {
				if w != nil {
					w.Close()
				}
				return fmt.Errorf("open %s: %w", in, err)
			}

			// The first input's profile names the merged file's profile.
			if w == nil {
				profile := ""
				if h := r.Header(); h != nil {
					profile = h.Profile
				}
				w, err = mcap.CreateFile(tmpPath, outputOptions(profile, opts.ChunkSize, opts.Compression, log))
				if err != nil {
					r.Close()
					return err
				}
			}

			if err := mergeOne(r, w, sequences, &total); err != nil {
				r.Close()
				w.Close()
				return fmt.Errorf("merge %s: %w", in, err)
			}
			if err := r.Close(); err != nil {
				w.Close()
				return err
			}
		}

		return w.Close()
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("inputs", len(inputs)).
		Str("output", out).
		Uint64("messages", total).
		Msg("merge complete")
	return nil
}

// mergeOne copies one input's definitions and messages into the shared
// writer, remapping ids as it goes.
func mergeOne(r *mcap.Reader, w *mcap.Writer, sequences map[uint16]uint32, total *uint64) error {
	schemaIDs := map[uint16]uint16{}
	for _, id := range sortedSchemaIDs(r.Schemas()) {
		s := r.Schemas()[id]
		newID, err := w.AddSchema(s.Name, s.Encoding, s.Data)
		if err != nil {
			return err
		}
		schemaIDs[id] = newID
	}

	channelIDs := map[uint16]uint16{}
	for _, id := range sortedChannelIDs(r.Channels()) {
		ch := r.Channels()[id]
		var schemaID uint16
		if ch.SchemaID != 0 {
			mapped, ok := schemaIDs[ch.SchemaID]
			if !ok {
				return fmt.Errorf("%w: id %d for channel %q", mcap.ErrUnknownSchema, ch.SchemaID, ch.Topic)
			}
			schemaID = mapped
		}
		newID, err := w.AddChannel(schemaID, ch.Topic, ch.MessageEncoding, ch.Metadata)
		if err != nil {
			return err
		}
		channelIDs[id] = newID
	}

	it, err := r.Messages(mcap.Query{Order: mcap.FileOrder})
	if err != nil {
		return err
	}
	for it.Next() {
		m := it.Record()
		id, ok := channelIDs[m.ChannelID]
		if !ok {
			return fmt.Errorf("%w: id %d", mcap.ErrUnknownChannel, m.ChannelID)
		}
		err := w.WriteMessage(&mcap.Message{
			ChannelID:   id,
			Sequence:    sequences[id],
			LogTime:     m.LogTime,
			PublishTime: m.PublishTime,
			Data:        m.Data,
		})
		if err != nil {
			return err
		}
		sequences[id]++
		*total++
	}
	return it.Err()
}

func sortedSchemaIDs(schemas map[uint16]*mcap.Schema) []uint16 {
	ids := make([]uint16, 0, len(schemas))
	for id := range schemas {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}
