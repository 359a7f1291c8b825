package mcap

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

func msgData(ch uint16, seq uint32) []byte {
	return []byte(fmt.Sprintf("m%d-%d", ch, seq))
}

func writeMsg(t *testing.T, w *Writer, ch uint16, seq uint32, ts uint64) {
	t.Helper()
	err := w.WriteMessage(&Message{
		ChannelID:   ch,
		Sequence:    seq,
		LogTime:     ts,
		PublishTime: ts,
		Data:        msgData(ch, seq),
	})
	if err != nil {
		t.Fatalf("write message ch=%d seq=%d: %v", ch, seq, err)
	}
}

func flush(t *testing.T, w *Writer) {
	t.Helper()
	if err := w.FlushChunk(); err != nil {
		t.Fatalf("flush chunk: %v", err)
	}
}

// buildOverlapFile writes two channels across three explicit chunks whose
// time ranges overlap:
//
//	chunk 1: /fix  seq 0 t=10, seq 1 t=20
//	chunk 2: /imu  seq 0 t=15, seq 1 t=25
//	chunk 3: /fix  seq 2 t=30, /imu seq 2 t=30
//
// With chunking disabled the same messages land unchunked in the same file
// order. Channel ids are 1 (/fix) and 2 (/imu).
func buildOverlapFile(t *testing.T, opts WriterOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overlap.mcap")
	w, err := CreateFile(path, opts)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	schemaID, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	fix, err := w.AddChannel(schemaID, "/fix", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	imu, err := w.AddChannel(schemaID, "/imu", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if fix != 1 || imu != 2 {
		t.Fatalf("channel ids = %d, %d, want 1, 2", fix, imu)
	}

	writeMsg(t, w, fix, 0, 10)
	writeMsg(t, w, fix, 1, 20)
	flush(t, w)
	writeMsg(t, w, imu, 0, 15)
	writeMsg(t, w, imu, 1, 25)
	flush(t, w)
	writeMsg(t, w, fix, 2, 30)
	writeMsg(t, w, imu, 2, 30)
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

type msgKey struct {
	ch   uint16
	seq  uint32
	time uint64
}

// collect drains an iterator, checking each message's payload identity on
// the way.
func collect(t *testing.T, it *MessageIterator) []msgKey {
	t.Helper()
	var out []msgKey
	for it.Next() {
		m := it.Record()
		if want := msgData(m.ChannelID, m.Sequence); !bytes.Equal(m.Data, want) {
			t.Fatalf("message ch=%d seq=%d data = %q, want %q", m.ChannelID, m.Sequence, m.Data, want)
		}
		if m.PublishTime != m.LogTime {
			t.Fatalf("message ch=%d seq=%d publish time %d, want %d", m.ChannelID, m.Sequence, m.PublishTime, m.LogTime)
		}
		out = append(out, msgKey{m.ChannelID, m.Sequence, m.LogTime})
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return out
}
