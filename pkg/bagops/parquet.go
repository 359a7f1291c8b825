package bagops

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/fileutil"
	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/rawio"
)

// IndexRow is one message's entry in the parquet index export.
type IndexRow struct {
	Topic       string `parquet:"topic"`
	ChannelID   int32  `parquet:"channel_id"`
	Sequence    int64  `parquet:"sequence"`
	LogTime     int64  `parquet:"log_time"`
	PublishTime int64  `parquet:"publish_time"`
	DataSize    int64  `parquet:"data_size"`
	// ChunkOffset is the file offset of the chunk holding the message, 0
	// for messages stored outside any chunk.
	ChunkOffset int64 `parquet:"chunk_offset"`
}

// exportBatchSize is how many rows accumulate before a parquet write.
const exportBatchSize = 1024

// ExportIndexParquet writes one parquet row per message of in: topic,
// channel id, sequence, both timestamps, payload size, and the containing
// chunk's file offset. The data section is walked in file order, so rows
// come out in storage order and the export works on files without a
// summary.
func ExportIndexParquet(ctx context.Context, in, out string) error {
	ctx = logctx.WithStr(ctx, "op", "export-index")
	log := logctx.FromContext(ctx)

	if samePath(in, out) {
		return fmt.Errorf("%w: %s", ErrSameFile, out)
	}

	r, err := rawio.OpenMmap(in)
	if err != nil {
		return fmt.Errorf("open %s: %w", in, err)
	}
	defer r.Close()

	var rows uint64
	err = fileutil.WriteTmpThenMove(out, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmpPath, err)
		}
		pw := parquet.NewGenericWriter[IndexRow](f)

		n, err := writeIndexRows(r, pw)
		rows = n
		if err != nil {
			f.Close()
			return err
		}
		if err := pw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		return fmt.Errorf("export index of %s: %w", in, err)
	}

	log.Info().
		Str("input", in).
		Str("output", out).
		Uint64("rows", rows).
		Msg("index export complete")
	return nil
}

// writeIndexRows walks the data section and streams message rows to the
// parquet writer in batches.
func writeIndexRows(r rawio.Reader, pw *parquet.GenericWriter[IndexRow]) (uint64, error) {
	p := mcap.NewParser(r)
	if err := p.Magic(); err != nil {
		return 0, err
	}

	topics := map[uint16]string{}
	batch := make([]IndexRow, 0, exportBatchSize)
	var total uint64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.Write(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	appendRow := func(m *mcap.Message, chunkOffset int64) error {
		batch = append(batch, IndexRow{
			Topic:       topics[m.ChannelID],
			ChannelID:   int32(m.ChannelID),
			Sequence:    int64(m.Sequence),
			LogTime:     int64(m.LogTime),
			PublishTime: int64(m.PublishTime),
			DataSize:    int64(len(m.Data)),
			ChunkOffset: chunkOffset,
		})
		total++
		if len(batch) == exportBatchSize {
			return flush()
		}
		return nil
	}

	for {
		offset := p.Tell()
		op := p.PeekOp()
		if op == mcap.OpInvalid || op == mcap.OpDataEnd {
			break
		}
		op, payload, err := p.Next()
		if err != nil {
			return total, err
		}
		switch op {
		case mcap.OpChannel:
			ch, err := mcap.ParseChannel(payload)
			if err != nil {
				return total, err
			}
			topics[ch.ID] = ch.Topic
		case mcap.OpMessage:
			m, err := mcap.ParseMessage(payload)
			if err != nil {
				return total, err
			}
			if err := appendRow(m, 0); err != nil {
				return total, err
			}
		case mcap.OpChunk:
			c, err := mcap.ParseChunk(payload)
			if err != nil {
				return total, err
			}
			records, err := mcap.DecompressChunk(c, false)
			if err != nil {
				return total, err
			}
			cp := mcap.NewParser(rawio.NewBytesReader(records))
			for cp.PeekOp() != mcap.OpInvalid {
				inOp, inPayload, err := cp.Next()
				if err != nil {
					return total, err
				}
				switch inOp {
				case mcap.OpChannel:
					ch, err := mcap.ParseChannel(inPayload)
					if err != nil {
						return total, err
					}
					topics[ch.ID] = ch.Topic
				case mcap.OpMessage:
					m, err := mcap.ParseMessage(inPayload)
					if err != nil {
						return total, err
					}
					if err := appendRow(m, offset); err != nil {
						return total, err
					}
				}
			}
		}
	}
	return total, flush()
}
