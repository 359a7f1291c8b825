package bagops

import (
	"context"
	"fmt"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/rawio"
)

// InspectOptions configure Inspect.
type InspectOptions struct {
	// MaxRecords caps how many records are listed. Zero or negative lists
	// the whole file.
	MaxRecords int
	// ExpandChunks additionally lists the records inside each chunk,
	// indented under it, with offsets relative to the chunk's uncompressed
	// records.
	ExpandChunks bool
}

// RecordInfo describes one record of the file.
type RecordInfo struct {
	// Offset is the record's byte offset: from the file start, or from the
	// chunk's uncompressed records when InChunk is set.
	Offset  int64
	Op      mcap.OpCode
	Length  uint64
	Detail  string
	InChunk bool
}

// Inspect walks the file record by record, top to bottom, producing one
// line of structural detail per record. Truncated or damaged tails end the
// walk with a final diagnostic entry instead of an error, so a damaged file
// can still be inspected up to the break.
func Inspect(ctx context.Context, path string, opts InspectOptions) ([]RecordInfo, error) {
	log := logctx.FromContext(logctx.WithStr(ctx, "op", "inspect"))

	r, err := rawio.OpenMmap(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	p := mcap.NewParser(r)
	if err := p.Magic(); err != nil {
		return nil, err
	}

	var records []RecordInfo
	full := func() bool {
		return opts.MaxRecords > 0 && len(records) >= opts.MaxRecords
	}

	for !full() {
		offset := p.Tell()
		if offset >= r.Size()-mcap.MagicSize {
			break
		}
		op := p.PeekOp()
		if op == mcap.OpInvalid {
			records = append(records, RecordInfo{Offset: offset, Op: op, Detail: "zero opcode, walk stopped"})
			break
		}
		op, payload, err := p.Next()
		if err != nil {
			records = append(records, RecordInfo{Offset: offset, Op: op, Detail: fmt.Sprintf("unreadable: %v", err)})
			log.Warn().Int64("offset", offset).Err(err).Msg("inspect stopped at unreadable record")
			break
		}
		records = append(records, RecordInfo{
			Offset: offset,
			Op:     op,
			Length: uint64(len(payload)),
			Detail: recordDetail(op, payload),
		})
		if op == mcap.OpChunk && opts.ExpandChunks {
			records = appendChunkRecords(records, payload, opts.MaxRecords)
		}
	}
	return records, nil
}

// appendChunkRecords lists the records inside one chunk, offsets relative
// to its uncompressed payload. A chunk that cannot be expanded contributes
// a single diagnostic entry.
func appendChunkRecords(records []RecordInfo, payload []byte, maxRecords int) []RecordInfo {
	c, err := mcap.ParseChunk(payload)
	if err == nil {
		var inner []byte
		inner, err = mcap.DecompressChunk(c, false)
		if err == nil {
			p := mcap.NewParser(rawio.NewBytesReader(inner))
			for maxRecords <= 0 || len(records) < maxRecords {
				offset := p.Tell()
				if p.PeekOp() == mcap.OpInvalid {
					break
				}
				op, body, err := p.Next()
				if err != nil {
					records = append(records, RecordInfo{Offset: offset, Op: op, InChunk: true, Detail: fmt.Sprintf("unreadable: %v", err)})
					break
				}
				records = append(records, RecordInfo{
					Offset:  offset,
					Op:      op,
					Length:  uint64(len(body)),
					Detail:  recordDetail(op, body),
					InChunk: true,
				})
			}
			return records
		}
	}
	return append(records, RecordInfo{Op: mcap.OpChunk, InChunk: true, Detail: fmt.Sprintf("cannot expand chunk: %v", err)})
}

// recordDetail renders a one-line structural summary of a record. Payloads
// that do not parse report the failure instead.
func recordDetail(op mcap.OpCode, payload []byte) string {
	switch op {
	case mcap.OpHeader:
		h, err := mcap.ParseHeader(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("profile=%q library=%q", h.Profile, h.Library)
	case mcap.OpFooter:
		f, err := mcap.ParseFooter(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("summary_start=%d summary_offset_start=%d summary_crc=%08x", f.SummaryStart, f.SummaryOffsetStart, f.SummaryCRC)
	case mcap.OpSchema:
		s, err := mcap.ParseSchema(payload)
		if err != nil {
			return badPayload(err)
		}
		if s == nil {
			return "id=0 (schemaless placeholder)"
		}
		return fmt.Sprintf("id=%d name=%q encoding=%q data=%d bytes", s.ID, s.Name, s.Encoding, len(s.Data))
	case mcap.OpChannel:
		c, err := mcap.ParseChannel(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("id=%d schema=%d topic=%q encoding=%q", c.ID, c.SchemaID, c.Topic, c.MessageEncoding)
	case mcap.OpMessage:
		m, err := mcap.ParseMessage(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("channel=%d seq=%d log_time=%d data=%d bytes", m.ChannelID, m.Sequence, m.LogTime, len(m.Data))
	case mcap.OpChunk:
		c, err := mcap.ParseChunk(payload)
		if err != nil {
			return badPayload(err)
		}
		comp := c.Compression
		if comp == "" {
			comp = "none"
		}
		return fmt.Sprintf("time=[%d, %d] compression=%s compressed=%d uncompressed=%d", c.MessageStartTime, c.MessageEndTime, comp, len(c.Records), c.UncompressedSize)
	case mcap.OpMessageIndex:
		idx, err := mcap.ParseMessageIndex(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("channel=%d entries=%d", idx.ChannelID, len(idx.Records))
	case mcap.OpChunkIndex:
		ci, err := mcap.ParseChunkIndex(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("chunk_offset=%d time=[%d, %d] channels=%d", ci.ChunkStartOffset, ci.MessageStartTime, ci.MessageEndTime, len(ci.MessageIndexOffsets))
	case mcap.OpAttachment:
		a, err := mcap.ParseAttachment(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("name=%q media_type=%q data=%d bytes crc=%08x", a.Name, a.MediaType, len(a.Data), a.CRC)
	case mcap.OpAttachmentIndex:
		ai, err := mcap.ParseAttachmentIndex(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("name=%q offset=%d length=%d", ai.Name, ai.Offset, ai.Length)
	case mcap.OpStatistics:
		st, err := mcap.ParseStatistics(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("messages=%d channels=%d chunks=%d time=[%d, %d]", st.MessageCount, st.ChannelCount, st.ChunkCount, st.MessageStartTime, st.MessageEndTime)
	case mcap.OpMetadata:
		m, err := mcap.ParseMetadata(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("name=%q entries=%d", m.Name, len(m.Metadata))
	case mcap.OpMetadataIndex:
		mi, err := mcap.ParseMetadataIndex(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("name=%q offset=%d length=%d", mi.Name, mi.Offset, mi.Length)
	case mcap.OpSummaryOffset:
		so, err := mcap.ParseSummaryOffset(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("group=%s start=%d length=%d", so.GroupOpCode, so.GroupStart, so.GroupLength)
	case mcap.OpDataEnd:
		de, err := mcap.ParseDataEnd(payload)
		if err != nil {
			return badPayload(err)
		}
		return fmt.Sprintf("data_section_crc=%08x", de.DataSectionCRC)
	default:
		return fmt.Sprintf("opcode 0x%02x", uint8(op))
	}
}

func badPayload(err error) string {
	return fmt.Sprintf("unparseable payload: %v", err)
}
