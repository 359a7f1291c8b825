package bagops

import (
	"context"
	"fmt"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/fileutil"
	"github.com/bagworks/gobag/pkg/mcap"
)

// RecoverOptions shape the recovered output file.
type RecoverOptions struct {
	// ChunkSize and Compression follow the FilterOptions conventions.
	ChunkSize   int64
	Compression string
}

// RecoverReport records what Recover salvaged and what it had to give up.
type RecoverReport struct {
	MessagesRecovered uint64
	ChannelsRecovered int
	SchemasRecovered  int

	// Anomalies lists everything the data-section scan skipped or had to
	// guess: truncation points, unreadable records, damaged chunks.
	Anomalies []string

	// StopCause is the error that ended message copying early, "" when the
	// whole readable data section was recovered.
	StopCause string
}

// Recover salvages a damaged file into a fresh, fully indexed one. The
// input's summary is ignored and rebuilt by scanning the data section;
// messages are copied in file order until the first unreadable record.
// Schema and channel ids are preserved, definitions are re-emitted lazily
// before the first message that needs them, and sequence numbers restart
// from 0 per channel. The report says how much was recovered and what was
// skipped.
func Recover(ctx context.Context, in, out string, opts RecoverOptions) (*RecoverReport, error) {
	ctx = logctx.WithStr(ctx, "op", "recover")
	log := logctx.FromContext(ctx)

	if samePath(in, out) {
		return nil, fmt.Errorf("%w: %s", ErrSameFile, out)
	}

	r, err := mcap.OpenFile(in, mcap.ReaderOptions{
		Reconstruction: mcap.ReconstructAlways,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", in, err)
	}
	defer r.Close()

	report := &RecoverReport{
		Anomalies: append([]string(nil), r.Summary().Anomalies()...),
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
		writtenChannels := map[uint16]bool{}
		sequences := map[uint16]uint32{}

		it, err := r.Messages(mcap.Query{Order: mcap.FileOrder})
		if err != nil {
			// Nothing iterable: keep the (empty) output and report why.
			report.StopCause = err.Error()
			return w.Close()
		}
		for it.Next() {
			m := it.Record()
			if !writtenChannels[m.ChannelID] {
				if err := copyDefinitions(r, w, m.ChannelID, writtenSchemas); err != nil {
					w.Close()
					return err
				}
				writtenChannels[m.ChannelID] = true
			}
			err := w.WriteMessage(&mcap.Message{
				ChannelID:   m.ChannelID,
				Sequence:    sequences[m.ChannelID],
				LogTime:     m.LogTime,
				PublishTime: m.PublishTime,
				Data:        m.Data,
			})
			if err != nil {
				w.Close()
				return err
			}
			sequences[m.ChannelID]++
			report.MessagesRecovered++
		}
		if err := it.Err(); err != nil {
			// A read error means corruption past this point; everything
			// already copied is kept.
			report.StopCause = err.Error()
			log.Warn().Err(err).
				Uint64("messages", report.MessagesRecovered).
				Msg("recovery stopped at unreadable record")
		}

		report.ChannelsRecovered = len(writtenChannels)
		report.SchemasRecovered = len(writtenSchemas)
		return w.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("recover %s: %w", in, err)
	}

	log.Info().
		Str("input", in).
		Str("output", out).
		Uint64("messages", report.MessagesRecovered).
		Int("channels", report.ChannelsRecovered).
		Int("schemas", report.SchemasRecovered).
		Int("anomalies", len(report.Anomalies)).
		Msg("recovery complete")
	return report, nil
}
