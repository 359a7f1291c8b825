// Package bag is the topic-level surface over container files: enumerate
// topics, iterate messages decoded to field values, and write field values
// back. Schema names resolve through a schema.Registry and messages decode
// through codecs built by pkg/codec; raw record access never needs a
// registry.
package bag

import (
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/bagworks/gobag/pkg/mcap"
)

// ErrNoRegistry is returned by operations that decode or encode message
// values when the session was opened without a schema registry.
var ErrNoRegistry = errors.New("no schema registry")

// Message is one record with its payload decoded to field values.
type Message struct {
	Topic       string
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	// Value holds the decoded fields keyed by name, in the codec value
	// model.
	Value map[string]any
}

// MessageQuery selects and orders messages for iteration.
type MessageQuery struct {
	// Topics filters by topic name or glob (path.Match syntax, with "*"
	// alone matching every topic). Nil or empty selects all topics. A
	// name without glob metacharacters must exist in the file.
	Topics []string
	// Start and End bound log time to the half-open [Start, End). Zero
	// End means unbounded.
	Start, End uint64
	// Order selects the iteration order.
	Order mcap.Order
	// Filter, when set, drops records it returns false for before they
	// are decoded. RawMessages ignores it.
	Filter func(*mcap.Message) bool
}

// matchTopics returns the topic names matching one pattern. Exact hits
// bypass glob evaluation entirely.
func matchTopics(pattern string, topics map[string][]uint16) []string {
	if _, ok := topics[pattern]; ok {
		return []string{pattern}
	}
	var names []string
	for topic := range topics {
		if pattern == "*" {
			names = append(names, topic)
			continue
		}
		if ok, err := path.Match(pattern, topic); err == nil && ok {
			names = append(names, topic)
		}
	}
	return names
}

// isGlob reports whether pattern contains glob metacharacters.
func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func sortedIDs(ids []uint16) []uint16 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
