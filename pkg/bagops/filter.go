package bagops

import (
	"context"
	"fmt"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/fileutil"
	"github.com/bagworks/gobag/pkg/mcap"
)

// FilterOptions select what Filter keeps.
type FilterOptions struct {
	// IncludeTopics and ExcludeTopics are topic names or globs. An empty
	// include list keeps every topic; exclusion takes precedence over
	// inclusion.
	IncludeTopics []string
	ExcludeTopics []string

	// Start and End bound log time to the half-open [Start, End). A zero
	// End means unbounded.
	Start uint64
	End   uint64

	// ChunkSize and Compression shape the output file. Zero chunk size
	// selects the default; negative disables chunking.
	ChunkSize   int64
	Compression string
}

// Filter rewrites in to out keeping only the channels and messages the
// options select. Schema and channel ids and message sequence numbers are
// preserved, so a filtered file's records are byte-identical to the
// originals. The output is rewritten from scratch; chunk boundaries are not
// carried over.
func Filter(ctx context.Context, in, out string, opts FilterOptions) error {
	ctx = logctx.WithStr(ctx, "op", "filter")
	log := logctx.FromContext(ctx)

	if samePath(in, out) {
		return fmt.Errorf("%w: %s", ErrSameFile, out)
	}

	r, err := mcap.OpenFile(in, mcap.ReaderOptions{Logger: log})
	if err != nil {
		return fmt.Errorf("open %s: %w", in, err)
	}
	defer r.Close()

	var kept []uint16
	for _, id := range sortedChannelIDs(r.Channels()) {
		if topicSelected(r.Channels()[id].Topic, opts.IncludeTopics, opts.ExcludeTopics) {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		log.Warn().Str("input", in).Msg("no channels match the filter")
	}

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
		for _, id := range kept {
			if err := copyDefinitions(r, w, id, writtenSchemas); err != nil {
				w.Close()
				return err
			}
		}

		if len(kept) > 0 {
			it, err := r.Messages(mcap.Query{
				Channels: kept,
				Start:    opts.Start,
				End:      opts.End,
				Order:    mcap.FileOrder,
			})
			if err != nil {
				w.Close()
				return err
			}
			for it.Next() {
				if err := w.WriteMessage(it.Record()); err != nil {
					w.Close()
					return err
				}
			}
			if err := it.Err(); err != nil {
				w.Close()
				return err
			}
		}
		return w.Close()
	})
	if err != nil {
		return fmt.Errorf("filter %s: %w", in, err)
	}

	log.Info().
		Str("input", in).
		Str("output", out).
		Int("channels", len(kept)).
		Msg("filter complete")
	return nil
}
