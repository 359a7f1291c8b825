package bagops

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/rawio"
)

// DefaultVerifyParallelism bounds concurrent chunk checks.
const DefaultVerifyParallelism = 4

// VerifyOptions configure Verify.
type VerifyOptions struct {
	// Parallelism is the number of chunks checked concurrently. Zero or
	// negative selects DefaultVerifyParallelism.
	Parallelism int
}

// FindingKind classifies one verification failure.
type FindingKind string

const (
	FindingMagic         FindingKind = "magic"
	FindingFooter        FindingKind = "footer"
	FindingSummary       FindingKind = "summary"
	FindingSummaryCRC    FindingKind = "summary-crc"
	FindingDataCRC       FindingKind = "data-section-crc"
	FindingAttachmentCRC FindingKind = "attachment-crc"
	FindingChunk         FindingKind = "chunk"
)

// Finding is one verification failure.
type Finding struct {
	Kind   FindingKind
	Detail string
}

// VerifyReport lists every integrity failure Verify found.
type VerifyReport struct {
	Findings []Finding

	ChunksChecked      int
	AttachmentsChecked int
}

// OK reports a clean file.
func (r *VerifyReport) OK() bool { return len(r.Findings) == 0 }

func (r *VerifyReport) add(kind FindingKind, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Verify checks every integrity guarantee the file carries: leading and
// trailing magic, footer structure, the summary checksum, the data-section
// checksum, attachment checksums, and each chunk's uncompressed checksum.
// Chunks are checked concurrently, each over its own file handle. Failures
// land in the report, not the error; the error covers I/O and cancellation
// only.
func Verify(ctx context.Context, path string, opts VerifyOptions) (*VerifyReport, error) {
	ctx = logctx.WithStr(ctx, "op", "verify")
	log := logctx.FromContext(ctx)

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultVerifyParallelism
	}

	r, err := rawio.OpenMmap(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	report := &VerifyReport{}
	footer := verifyStructure(r, report)

	summary, err := mcap.LoadSummary(r, mcap.SummaryOptions{Logger: log})
	if err != nil {
		report.add(FindingSummary, "summary unusable: %v", err)
		return report, nil
	}
	if summary.Reconstructed {
		for _, a := range summary.Anomalies() {
			report.add(FindingSummary, "%s", a)
		}
	}

	if footer != nil && footer.SummaryStart != 0 && footer.SummaryCRC != 0 {
		footerStart := r.Size() - mcap.MagicSize - mcap.FooterSize
		end := footerStart + mcap.RecordHeaderSize + 16
		got, err := mcap.ComputeRangeCRC(r, int64(footer.SummaryStart), end)
		if err != nil {
			return nil, err
		}
		if got != footer.SummaryCRC {
			report.add(FindingSummaryCRC, "summary crc %08x, stored %08x", got, footer.SummaryCRC)
		}
	}

	if summary.DataEndOffset >= 0 && summary.DataSectionCRC != 0 {
		got, err := mcap.ComputeRangeCRC(r, 0, summary.DataEndOffset)
		if err != nil {
			return nil, err
		}
		if got != summary.DataSectionCRC {
			report.add(FindingDataCRC, "data section crc %08x, stored %08x", got, summary.DataSectionCRC)
		}
	}

	verifyAttachments(r, summary, report)

	if err := verifyChunks(ctx, path, summary, report, parallelism); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("chunks", report.ChunksChecked).
		Int("attachments", report.AttachmentsChecked).
		Int("findings", len(report.Findings)).
		Msg("verify complete")
	return report, nil
}

// verifyStructure checks the magic brackets and parses the footer,
// returning it when intact.
func verifyStructure(r rawio.Reader, report *VerifyReport) *mcap.Footer {
	if r.Size() < 2*mcap.MagicSize+mcap.FooterSize {
		report.add(FindingFooter, "file too short for footer: %d bytes", r.Size())
		return nil
	}

	if _, err := r.SeekFromStart(0); err == nil {
		if head, err := r.Read(mcap.MagicSize); err != nil || !bytes.Equal(head, mcap.Magic) {
			report.add(FindingMagic, "bad leading magic")
		}
	}
	if _, err := r.SeekFromEnd(mcap.MagicSize); err == nil {
		if tail, err := r.Read(mcap.MagicSize); err != nil || !bytes.Equal(tail, mcap.Magic) {
			report.add(FindingMagic, "bad trailing magic")
		}
	}

	footerStart := r.Size() - mcap.MagicSize - mcap.FooterSize
	if _, err := r.SeekFromStart(footerStart); err != nil {
		report.add(FindingFooter, "seek footer: %v", err)
		return nil
	}
	p := mcap.NewParser(r)
	op, payload, err := p.Next()
	if err != nil {
		report.add(FindingFooter, "read footer: %v", err)
		return nil
	}
	if op != mcap.OpFooter {
		report.add(FindingFooter, "expected footer record at offset %d, found %s", footerStart, op)
		return nil
	}
	footer, err := mcap.ParseFooter(payload)
	if err != nil {
		report.add(FindingFooter, "parse footer: %v", err)
		return nil
	}
	return footer
}

func verifyAttachments(r rawio.Reader, summary *mcap.Summary, report *VerifyReport) {
	for _, ai := range summary.AttachmentIndexes {
		report.AttachmentsChecked++
		if _, err := r.SeekFromStart(int64(ai.Offset)); err != nil {
			report.add(FindingAttachmentCRC, "attachment %q: seek offset %d: %v", ai.Name, ai.Offset, err)
			continue
		}
		p := mcap.NewParser(r)
		op, payload, err := p.Next()
		if err != nil || op != mcap.OpAttachment {
			report.add(FindingAttachmentCRC, "attachment %q: no attachment record at offset %d", ai.Name, ai.Offset)
			continue
		}
		a, err := mcap.ParseAttachment(payload)
		if err != nil {
			report.add(FindingAttachmentCRC, "attachment %q: %v", ai.Name, err)
			continue
		}
		if err := mcap.VerifyAttachment(a); err != nil {
			report.add(FindingAttachmentCRC, "%v", err)
		}
	}
}

// verifyChunks decompresses every indexed chunk and validates its
// uncompressed checksum, parallelism chunks at a time. Each worker opens
// its own reader so positioned reads never interleave.
func verifyChunks(ctx context.Context, path string, summary *mcap.Summary, report *VerifyReport, parallelism int) error {
	chunks := summary.ChunkIndexes
	if len(chunks) == 0 {
		return nil
	}

	var mu sync.Mutex
	findings := make([]*Finding, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, ci := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := checkChunk(path, ci)
			if err != nil {
				return err
			}
			mu.Lock()
			findings[i] = f
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("check chunks: %w", err)
	}

	report.ChunksChecked = len(chunks)
	for _, f := range findings {
		if f != nil {
			report.Findings = append(report.Findings, *f)
		}
	}
	return nil
}

// checkChunk reads and decompresses one chunk. A verification failure comes
// back as a finding; an I/O failure as an error.
func checkChunk(path string, ci *mcap.ChunkIndex) (*Finding, error) {
	fr, err := rawio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	if _, err := fr.SeekFromStart(int64(ci.ChunkStartOffset)); err != nil {
		return &Finding{FindingChunk, fmt.Sprintf("chunk at offset %d: %v", ci.ChunkStartOffset, err)}, nil
	}
	p := mcap.NewParser(fr)
	op, payload, err := p.Next()
	if err != nil {
		return &Finding{FindingChunk, fmt.Sprintf("chunk at offset %d: %v", ci.ChunkStartOffset, err)}, nil
	}
	if op != mcap.OpChunk {
		return &Finding{FindingChunk, fmt.Sprintf("expected chunk record at offset %d, found %s", ci.ChunkStartOffset, op)}, nil
	}
	c, err := mcap.ParseChunk(payload)
	if err != nil {
		return &Finding{FindingChunk, fmt.Sprintf("chunk at offset %d: %v", ci.ChunkStartOffset, err)}, nil
	}
	if _, err := mcap.DecompressChunk(c, true); err != nil {
		return &Finding{FindingChunk, fmt.Sprintf("chunk at offset %d: %v", ci.ChunkStartOffset, err)}, nil
	}
	return nil, nil
}
