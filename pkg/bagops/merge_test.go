package bagops

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bagworks/gobag/pkg/mcap"
)

// buildSecondInput writes a file sharing the fixture's schema and topic /a
// plus a new topic /c.
func buildSecondInput(t *testing.T, path string) {
	t.Helper()
	w, err := mcap.CreateFile(path, mcap.WriterOptions{
		ChunkSize:   mcap.DefaultChunkSize,
		Compression: mcap.CompressionZstd,
		Profile:     "ros2",
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("create second input: %v", err)
	}
	schemaID, err := w.AddSchema("test/Sample", "ros2msg", []byte(sampleSchema))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	a, err := w.AddChannel(schemaID, "/a", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel /a: %v", err)
	}
	c, err := w.AddChannel(schemaID, "/c", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel /c: %v", err)
	}
	for i, m := range []struct {
		ch uint16
		ts uint64
	}{{a, 400}, {c, 410}, {a, 420}} {
		err := w.WriteMessage(&mcap.Message{
			ChannelID: m.ch,
			Sequence:  uint32(i),
			LogTime:   m.ts,
			Data:      []byte{byte(m.ch)},
		})
		if err != nil {
			t.Fatalf("write message: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close second input: %v", err)
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	in1 := filepath.Join(dir, "one.mcap")
	in2 := filepath.Join(dir, "two.mcap")
	out := filepath.Join(dir, "merged.mcap")
	buildInput(t, in1, mcap.CompressionZstd)
	buildSecondInput(t, in2)

	if err := Merge(testCtx(), []string{in1, in2}, out, MergeOptions{}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	r, err := mcap.OpenFile(out, mcap.ReaderOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open merged: %v", err)
	}
	defer r.Close()

	// Identical schemas collapse to one record.
	if got := len(r.Schemas()); got != 1 {
		t.Errorf("got %d schemas, want 1", got)
	}
	// /a binds identically in both inputs, so the merged file has channels
	// /a, /b, /c with distinct ids.
	topics := map[string]int{}
	ids := map[uint16]bool{}
	for id, ch := range r.Channels() {
		topics[ch.Topic]++
		if ids[id] {
			t.Errorf("channel id %d assigned twice", id)
		}
		ids[id] = true
	}
	for _, topic := range []string{"/a", "/b", "/c"} {
		if topics[topic] != 1 {
			t.Errorf("topic %s has %d channels, want 1", topic, topics[topic])
		}
	}
	if len(r.Channels()) != 3 {
		t.Errorf("got %d channels, want 3", len(r.Channels()))
	}

	msgs := readAll(t, out)
	if len(msgs) != 8 {
		t.Fatalf("got %d messages, want 8", len(msgs))
	}

	// Sequences restart from 0 and count up per output channel across both
	// inputs.
	next := map[uint16]uint32{}
	for i, m := range msgs {
		if m.Sequence != next[m.ChannelID] {
			t.Errorf("message %d on channel %d has sequence %d, want %d", i, m.ChannelID, m.Sequence, next[m.ChannelID])
		}
		next[m.ChannelID]++
	}
	// 3 + 2 messages land on the shared /a channel.
	var aID uint16
	for id, ch := range r.Channels() {
		if ch.Topic == "/a" {
			aID = id
		}
	}
	if next[aID] != 5 {
		t.Errorf("channel /a carries %d messages, want 5", next[aID])
	}
}

func TestMergeNoInputs(t *testing.T) {
	if err := Merge(testCtx(), nil, filepath.Join(t.TempDir(), "out.mcap"), MergeOptions{}); err == nil {
		t.Fatal("Merge with no inputs succeeded, want error")
	}
}
