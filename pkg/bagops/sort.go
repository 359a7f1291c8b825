package bagops

import (
	"context"
	"fmt"
	"sort"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/fileutil"
	"github.com/bagworks/gobag/pkg/mcap"
)

// SortOptions select how Sort rearranges messages.
type SortOptions struct {
	// ByTopic groups each topic's messages into dedicated chunks, flushing
	// the open chunk between topics so no chunk mixes topics.
	ByTopic bool
	// ByLogTime orders messages by log time: globally when ByTopic is
	// false, within each topic group otherwise.
	ByLogTime bool

	// ChunkSize and Compression follow the FilterOptions conventions.
	ChunkSize   int64
	Compression string
}

// Sort rewrites in to out with messages rearranged per the options. At
// least one sort mode must be selected, otherwise ErrNoSortKey. Schema and
// channel ids, sequence numbers, attachments, and metadata are preserved.
func Sort(ctx context.Context, in, out string, opts SortOptions) error {
	ctx = logctx.WithStr(ctx, "op", "sort")
	log := logctx.FromContext(ctx)

	if !opts.ByTopic && !opts.ByLogTime {
		return ErrNoSortKey
	}
	if samePath(in, out) {
		return fmt.Errorf("%w: %s", ErrSameFile, out)
	}

	r, err := mcap.OpenFile(in, mcap.ReaderOptions{Logger: log})
	if err != nil {
		return fmt.Errorf("open %s: %w", in, err)
	}
	defer r.Close()

	profile := ""
	if h := r.Header(); h != nil {
		profile = h.Profile
	}

	err = fileutil.WriteTmpThenMove(out, func(tmpPath string) error {
		w, err := mcap.CreateFile(tmpPath, outputOptions(profile, opts.ChunkSize, opts.Compression, log))
		if err != nil {
			return err
		}

		writtenSchemas := map[uint16]bool{}
		for _, id := range sortedChannelIDs(r.Channels()) {
			if err := copyDefinitions(r, w, id, writtenSchemas); err != nil {
				w.Close()
				return err
			}
		}

		if opts.ByTopic {
			err = sortByTopic(r, w, opts.ByLogTime)
		} else {
			err = copyMessages(r, w, nil, mcap.LogTimeOrder)
		}
		if err != nil {
			w.Close()
			return err
		}

		if err := copyAttachmentsAndMetadata(r, w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return fmt.Errorf("sort %s: %w", in, err)
	}

	log.Info().Str("input", in).Str("output", out).
		Bool("by_topic", opts.ByTopic).
		Bool("by_log_time", opts.ByLogTime).
		Msg("sort complete")
	return nil
}

// sortByTopic writes each topic's messages as a contiguous run, flushing
// the chunk between topics. Topics go out in name order; a topic spread
// over several channels keeps them together.
func sortByTopic(r *mcap.Reader, w *mcap.Writer, byLogTime bool) error {
	byTopic := map[string][]uint16{}
	for id, ch := range r.Channels() {
		byTopic[ch.Topic] = append(byTopic[ch.Topic], id)
	}
	topics := make([]string, 0, len(byTopic))
	for topic := range byTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	order := mcap.FileOrder
	if byLogTime {
		order = mcap.LogTimeOrder
	}
	for _, topic := range topics {
		ids := byTopic[topic]
		sortIDs(ids)
		if err := copyMessages(r, w, ids, order); err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		if err := w.FlushChunk(); err != nil {
			return err
		}
	}
	return nil
}

// copyMessages streams the selected channels' messages into the writer in
// the given order, records unchanged.
func copyMessages(r *mcap.Reader, w *mcap.Writer, channels []uint16, order mcap.Order) error {
	it, err := r.Messages(mcap.Query{Channels: channels, Order: order})
	if err != nil {
		return err
	}
	for it.Next() {
		if err := w.WriteMessage(it.Record()); err != nil {
			return err
		}
	}
	return it.Err()
}

func copyAttachmentsAndMetadata(r *mcap.Reader, w *mcap.Writer) error {
	attachments, err := r.Attachments("")
	if err != nil {
		return err
	}
	for _, a := range attachments {
		if err := w.WriteAttachment(a); err != nil {
			return err
		}
	}
	metadata, err := r.Metadata("")
	if err != nil {
		return err
	}
	for _, m := range metadata {
		if err := w.WriteMetadata(m); err != nil {
			return err
		}
	}
	return nil
}
