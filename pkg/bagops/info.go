package bagops

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bagworks/gobag/internal/logctx"
	"github.com/bagworks/gobag/pkg/humanfmt"
	"github.com/bagworks/gobag/pkg/mcap"
)

// TopicInfo is one per-topic row of a file report.
type TopicInfo struct {
	Topic        string
	MessageCount uint64
	// Frequency is messages per second over the file's time span, 0 when
	// the span is empty.
	Frequency       float64
	MessageEncoding string
	SchemaName      string
	SchemaEncoding  string
}

// CompressionInfo aggregates the chunks sharing one compression.
type CompressionInfo struct {
	Compression      string
	Chunks           int
	CompressedSize   uint64
	UncompressedSize uint64
}

// FileInfo is the report produced by Info.
type FileInfo struct {
	Path string
	Size int64

	Profile string
	Library string

	MessageCount    uint64
	ChannelCount    int
	SchemaCount     int
	ChunkCount      int
	AttachmentCount int
	MetadataCount   int

	// MessageStartTime and MessageEndTime are nanosecond log times.
	MessageStartTime uint64
	MessageEndTime   uint64

	// Reconstructed reports that the summary section was missing or
	// unusable and the report came from scanning the data section.
	Reconstructed bool

	Topics      []TopicInfo       // sorted by topic name
	Compression []CompressionInfo // sorted by compression name
}

// Duration returns the log time span of the file's messages.
func (fi *FileInfo) Duration() time.Duration {
	if fi.MessageEndTime <= fi.MessageStartTime {
		return 0
	}
	return time.Duration(fi.MessageEndTime - fi.MessageStartTime)
}

// Info reads the file's summary and produces a report. Files without a
// usable summary are scanned.
func Info(ctx context.Context, path string) (*FileInfo, error) {
	ctx = logctx.WithStr(ctx, "op", "info")
	log := logctx.FromContext(ctx)

	r, err := mcap.OpenFile(path, mcap.ReaderOptions{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	fi := &FileInfo{
		Path:          path,
		Size:          st.Size(),
		ChannelCount:  len(r.Channels()),
		SchemaCount:   len(r.Schemas()),
		Reconstructed: r.Summary().Reconstructed,
	}
	if h := r.Header(); h != nil {
		fi.Profile = h.Profile
		fi.Library = h.Library
	}
	fi.MessageStartTime, fi.MessageEndTime = r.TimeRange()

	summary := r.Summary()
	fi.ChunkCount = len(summary.ChunkIndexes)
	fi.AttachmentCount = len(summary.AttachmentIndexes)
	fi.MetadataCount = len(summary.MetadataIndexes)

	span := fi.Duration().Seconds()
	counts := map[string]*TopicInfo{}
	for id, ch := range r.Channels() {
		n, err := r.MessageCount(id)
		if err != nil {
			return nil, fmt.Errorf("count messages on %s: %w", ch.Topic, err)
		}
		row, ok := counts[ch.Topic]
		if !ok {
			row = &TopicInfo{Topic: ch.Topic, MessageEncoding: ch.MessageEncoding}
			if s, ok := r.Schemas()[ch.SchemaID]; ok {
				row.SchemaName = s.Name
				row.SchemaEncoding = s.Encoding
			}
			counts[ch.Topic] = row
		}
		row.MessageCount += n
		fi.MessageCount += n
	}
	for _, row := range counts {
		if span > 0 {
			row.Frequency = float64(row.MessageCount) / span
		}
		fi.Topics = append(fi.Topics, *row)
	}
	sort.Slice(fi.Topics, func(i, j int) bool { return fi.Topics[i].Topic < fi.Topics[j].Topic })

	byComp := map[string]*CompressionInfo{}
	for _, ci := range summary.ChunkIndexes {
		agg, ok := byComp[ci.Compression]
		if !ok {
			agg = &CompressionInfo{Compression: ci.Compression}
			byComp[ci.Compression] = agg
		}
		agg.Chunks++
		agg.CompressedSize += ci.CompressedSize
		agg.UncompressedSize += ci.UncompressedSize
	}
	for _, agg := range byComp {
		fi.Compression = append(fi.Compression, *agg)
	}
	sort.Slice(fi.Compression, func(i, j int) bool {
		return fi.Compression[i].Compression < fi.Compression[j].Compression
	})

	log.Debug().
		Str("path", path).
		Uint64("messages", fi.MessageCount).
		Int("channels", fi.ChannelCount).
		Msg("file report built")
	return fi, nil
}

// String renders the report as the aligned text table the info tool prints.
func (fi *FileInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File:       %s (%s)\n", fi.Path, humanfmt.Bytes(fi.Size))
	fmt.Fprintf(&b, "Profile:    %s\n", orNA(fi.Profile))
	fmt.Fprintf(&b, "Library:    %s\n", orNA(fi.Library))
	if fi.Reconstructed {
		b.WriteString("Summary:    reconstructed from data section\n")
	}
	fmt.Fprintf(&b, "Start:      %s\n", formatTime(fi.MessageStartTime))
	fmt.Fprintf(&b, "End:        %s\n", formatTime(fi.MessageEndTime))
	fmt.Fprintf(&b, "Duration:   %s\n", humanfmt.Duration(fi.Duration()))
	fmt.Fprintf(&b, "Messages:   %s\n", humanfmt.CountUint64(fi.MessageCount))
	fmt.Fprintf(&b, "Channels:   %d\n", fi.ChannelCount)
	fmt.Fprintf(&b, "Schemas:    %d\n", fi.SchemaCount)
	fmt.Fprintf(&b, "Chunks:     %d\n", fi.ChunkCount)
	fmt.Fprintf(&b, "Attachments: %d, Metadata: %d\n", fi.AttachmentCount, fi.MetadataCount)

	for _, ci := range fi.Compression {
		name := ci.Compression
		if name == "" {
			name = "none"
		}
		fmt.Fprintf(&b, "Chunks[%s]: %d (%s compressed, %s uncompressed)\n",
			name, ci.Chunks, humanfmt.BytesUint64(ci.CompressedSize), humanfmt.BytesUint64(ci.UncompressedSize))
	}

	if len(fi.Topics) == 0 {
		return b.String()
	}

	topicWidth := len("Topic")
	countWidth := len("Messages")
	for _, row := range fi.Topics {
		if len(row.Topic) > topicWidth {
			topicWidth = len(row.Topic)
		}
		if n := len(humanfmt.CountUint64(row.MessageCount)); n > countWidth {
			countWidth = n
		}
	}
	fmt.Fprintf(&b, "\n%-*s  %*s  %10s  %-10s  %s\n", topicWidth, "Topic", countWidth, "Messages", "Freq (Hz)", "Encoding", "Schema")
	for _, row := range fi.Topics {
		fmt.Fprintf(&b, "%-*s  %*s  %10s  %-10s  %s\n",
			topicWidth, row.Topic,
			countWidth, humanfmt.CountUint64(row.MessageCount),
			humanfmt.Frequency(row.Frequency),
			row.MessageEncoding,
			orNA(row.SchemaName))
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

// formatTime renders a nanosecond log time as seconds, matching the
// timestamps recording tools print.
func formatTime(ns uint64) string {
	return fmt.Sprintf("%d.%09d s", ns/1e9, ns%1e9)
}
