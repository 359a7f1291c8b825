// Package bagops implements the file-level operations a recording toolchain
// needs over container files: reporting, filtering, merging, sorting,
// corruption recovery, integrity verification, record inspection, and
// message-index export.
//
// Every operation takes a context carrying its logger (internal/logctx) and
// writes output files through a temporary in the same directory, so a run
// that fails partway never leaves a torn output behind.
package bagops

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/mcap"
)

var (
	// ErrNoSortKey is returned by Sort when neither sort mode is selected.
	ErrNoSortKey = errors.New("no sort key selected")

	// ErrSameFile is returned when an operation's output path names one of
	// its inputs.
	ErrSameFile = errors.New("output path is an input path")
)

// samePath reports whether two paths name the same file, comparing cleaned
// absolute paths.
func samePath(a, b string) bool {
	aa, err := filepath.Abs(a)
	if err != nil {
		aa = filepath.Clean(a)
	}
	bb, err := filepath.Abs(b)
	if err != nil {
		bb = filepath.Clean(b)
	}
	return aa == bb
}

// outputOptions resolves the writer options shared by the rewrite
// operations. A zero chunk size selects the default; a negative one
// disables chunking. Compression is passed through verbatim, so the empty
// string means uncompressed chunks.
func outputOptions(profile string, chunkSize int64, compression string, logger zerolog.Logger) mcap.WriterOptions {
	opts := mcap.WriterOptions{
		ChunkSize:   chunkSize,
		Compression: compression,
		Profile:     profile,
		Library:     mcap.DefaultLibrary,
		Logger:      logger,
	}
	if chunkSize == 0 {
		opts.ChunkSize = mcap.DefaultChunkSize
	}
	return opts
}

// topicSelected applies include and exclude glob lists to one topic.
// An empty include list selects every topic; exclusion takes precedence.
func topicSelected(topic string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if topicMatches(pattern, topic) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if topicMatches(pattern, topic) {
			return true
		}
	}
	return false
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}

// sortedChannelIDs returns the ids of a channel table in ascending order.
func sortedChannelIDs(channels map[uint16]*mcap.Channel) []uint16 {
	ids := make([]uint16, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []uint16) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// copyDefinitions writes the schema and channel for one input channel id to
// the output, preserving ids. Schemas are written at most once.
func copyDefinitions(r *mcap.Reader, w *mcap.Writer, channelID uint16, writtenSchemas map[uint16]bool) error {
	ch, ok := r.Channels()[channelID]
	if !ok {
		return fmt.Errorf("%w: id %d", mcap.ErrUnknownChannel, channelID)
	}
	if ch.SchemaID != 0 && !writtenSchemas[ch.SchemaID] {
		s, ok := r.Schemas()[ch.SchemaID]
		if !ok {
			return fmt.Errorf("%w: id %d for channel %q", mcap.ErrUnknownSchema, ch.SchemaID, ch.Topic)
		}
		if err := w.WriteSchema(s); err != nil {
			return err
		}
		writtenSchemas[ch.SchemaID] = true
	}
	return w.WriteChannel(ch)
}
