package bag

import (
	"path/filepath"
	"testing"

	"github.com/bagworks/gobag/pkg/mcap"
	"github.com/bagworks/gobag/pkg/schema"
)

// testRegistry holds the schemas the package tests share: a nested message,
// the struct that embeds it, and a sequence-bearing sensor type.
func testRegistry(t *testing.T) *schema.MapRegistry {
	t.Helper()
	point := &schema.Schema{
		Name: "geometry/Point",
		Entries: []schema.Entry{
			schema.Field{Name: "x", Type: schema.Primitive{Kind: schema.Float64}},
			schema.Field{Name: "y", Type: schema.Primitive{Kind: schema.Float64}},
		},
	}
	fix := &schema.Schema{
		Name: "nav/Fix",
		Entries: []schema.Entry{
			schema.Field{Name: "position", Type: schema.Named{Name: "geometry/Point"}},
			schema.Field{Name: "status", Type: schema.Primitive{Kind: schema.Int8}},
		},
	}
	imu := &schema.Schema{
		Name: "sensors/Imu",
		Entries: []schema.Entry{
			schema.Field{Name: "frame", Type: schema.String{}},
			schema.Field{Name: "rates", Type: schema.Sequence{Elem: schema.Primitive{Kind: schema.Float32}}},
		},
	}
	reg, err := schema.NewMapRegistry(point, fix, imu)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

// fixValue is the written form of a nav/Fix payload. fixDecoded is what the
// codec hands back: plain ints collapse to the schema's width on decode.
func fixValue(x float64, status int) map[string]any {
	return map[string]any{
		"position": map[string]any{"x": x, "y": -x},
		"status":   status,
	}
}

func fixDecoded(x float64, status int8) map[string]any {
	return map[string]any{
		"position": map[string]any{"x": x, "y": -x},
		"status":   status,
	}
}

func imuValue(frame string, rates []float32) map[string]any {
	return map[string]any{"frame": frame, "rates": rates}
}

// writeFixture builds the bag most reader tests open: /gps/fix carries three
// messages written out of time order with a chunk boundary after the second,
// /imu carries one, plus an attachment and a metadata record.
func writeFixture(t *testing.T, reg schema.Registry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.mcap")
	w, err := Create(path, DefaultWriterOptions(reg))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := w.AddTopic("/gps/fix", "nav/Fix"); err != nil {
		t.Fatalf("add /gps/fix: %v", err)
	}
	if _, err := w.AddTopic("/imu", "sensors/Imu"); err != nil {
		t.Fatalf("add /imu: %v", err)
	}
	write := func(topic string, ts uint64, v map[string]any) {
		t.Helper()
		if err := w.WriteMessage(topic, ts, v); err != nil {
			t.Fatalf("write %s at %d: %v", topic, ts, err)
		}
	}
	write("/gps/fix", 100, fixValue(1.5, 1))
	write("/gps/fix", 300, fixValue(3.5, 2))
	if err := w.FlushChunk(); err != nil {
		t.Fatalf("flush chunk: %v", err)
	}
	write("/gps/fix", 200, fixValue(2.5, 3))
	write("/imu", 150, imuValue("base", []float32{0.25, -0.5}))
	err = w.WriteAttachment(&mcap.Attachment{
		LogTime:    7,
		CreateTime: 5,
		Name:       "calib",
		MediaType:  "text/plain",
		Data:       []byte("intrinsics"),
	})
	if err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	err = w.WriteMetadata(&mcap.Metadata{Name: "rig", Metadata: map[string]string{"vehicle": "v1"}})
	if err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func openFixture(t *testing.T, path string, reg schema.Registry) *Reader {
	t.Helper()
	r, err := Open(path, Options{Registry: reg, CheckCRC: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// drain consumes a decoded iterator, failing the test on iteration errors.
func drain(t *testing.T, it *MessageIterator) []*Message {
	t.Helper()
	var out []*Message
	for it.Next() {
		out = append(out, it.Record())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	return out
}
