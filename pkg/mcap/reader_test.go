package mcap

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bagworks/gobag/pkg/rawio"
)

var (
	wantLogTime = []msgKey{
		{1, 0, 10}, {2, 0, 15}, {1, 1, 20}, {2, 1, 25}, {1, 2, 30}, {2, 2, 30},
	}
	wantFileOrder = []msgKey{
		{1, 0, 10}, {1, 1, 20}, {2, 0, 15}, {2, 1, 25}, {1, 2, 30}, {2, 2, 30},
	}
	wantReverse = []msgKey{
		{1, 2, 30}, {2, 2, 30}, {2, 1, 25}, {1, 1, 20}, {2, 0, 15}, {1, 0, 10},
	}
)

func TestMessageOrders(t *testing.T) {
	chunked := buildOverlapFile(t, DefaultWriterOptions())
	loose := buildOverlapFile(t, WriterOptions{})

	for _, tc := range []struct {
		name  string
		path  string
		order Order
		want  []msgKey
	}{
		{"chunked log time", chunked, LogTimeOrder, wantLogTime},
		{"chunked reverse", chunked, ReverseLogTimeOrder, wantReverse},
		{"chunked file order", chunked, FileOrder, wantFileOrder},
		{"loose log time", loose, LogTimeOrder, wantLogTime},
		{"loose reverse", loose, ReverseLogTimeOrder, wantReverse},
		{"loose file order", loose, FileOrder, wantFileOrder},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := OpenFile(tc.path, ReaderOptions{})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer r.Close()
			it, err := r.Messages(Query{Order: tc.order})
			if err != nil {
				t.Fatalf("messages: %v", err)
			}
			got := collect(t, it)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessageFilters(t *testing.T) {
	for _, variant := range []struct {
		name string
		opts WriterOptions
	}{
		{"chunked", DefaultWriterOptions()},
		{"loose", WriterOptions{}},
	} {
		t.Run(variant.name, func(t *testing.T) {
			r, err := OpenFile(buildOverlapFile(t, variant.opts), ReaderOptions{})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer r.Close()

			t.Run("time window", func(t *testing.T) {
				it, err := r.Messages(Query{Start: 15, End: 30})
				if err != nil {
					t.Fatalf("messages: %v", err)
				}
				want := []msgKey{{2, 0, 15}, {1, 1, 20}, {2, 1, 25}}
				if got := collect(t, it); !reflect.DeepEqual(got, want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			})

			t.Run("channel filter", func(t *testing.T) {
				it, err := r.Messages(Query{Channels: []uint16{2}})
				if err != nil {
					t.Fatalf("messages: %v", err)
				}
				want := []msgKey{{2, 0, 15}, {2, 1, 25}, {2, 2, 30}}
				if got := collect(t, it); !reflect.DeepEqual(got, want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			})

			t.Run("empty window", func(t *testing.T) {
				it, err := r.Messages(Query{Start: 100})
				if err != nil {
					t.Fatalf("messages: %v", err)
				}
				if got := collect(t, it); len(got) != 0 {
					t.Fatalf("got %v, want none", got)
				}
			})
		})
	}
}

func TestDisjointChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disjoint.mcap")
	w, err := CreateFile(path, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schemaID, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	ch, err := w.AddChannel(schemaID, "/fix", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	writeMsg(t, w, ch, 0, 10)
	writeMsg(t, w, ch, 1, 20)
	flush(t, w)
	writeMsg(t, w, ch, 2, 30)
	writeMsg(t, w, ch, 3, 40)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if n := len(r.Summary().ChunkIndexes); n != 2 {
		t.Fatalf("chunk indexes = %d, want 2", n)
	}
	it, err := r.Messages(Query{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	want := []msgKey{{1, 0, 10}, {1, 1, 20}, {1, 2, 30}, {1, 3, 40}}
	if got := collect(t, it); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestOrdinalAccess(t *testing.T) {
	for _, variant := range []struct {
		name string
		opts WriterOptions
	}{
		{"chunked", DefaultWriterOptions()},
		{"loose", WriterOptions{}},
	} {
		t.Run(variant.name, func(t *testing.T) {
			r, err := OpenFile(buildOverlapFile(t, variant.opts), ReaderOptions{})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer r.Close()

			for ch, want := range map[uint16]uint64{1: 3, 2: 3} {
				n, err := r.MessageCount(ch)
				if err != nil {
					t.Fatalf("message count %d: %v", ch, err)
				}
				if n != want {
					t.Fatalf("message count %d = %d, want %d", ch, n, want)
				}
			}
			total, err := r.TotalMessageCount()
			if err != nil {
				t.Fatalf("total count: %v", err)
			}
			if total != 6 {
				t.Fatalf("total count = %d, want 6", total)
			}

			m, err := r.MessageAtIndex(1, 1)
			if err != nil {
				t.Fatalf("message at index: %v", err)
			}
			if m.Sequence != 1 || m.LogTime != 20 {
				t.Fatalf("message at index = seq %d t=%d, want seq 1 t=20", m.Sequence, m.LogTime)
			}

			it, err := r.MessagesByIndex(1, 1, 3)
			if err != nil {
				t.Fatalf("messages by index: %v", err)
			}
			want := []msgKey{{1, 1, 20}, {1, 2, 30}}
			if got := collect(t, it); !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v, want %v", got, want)
			}

			if _, err := r.MessageAtIndex(1, 3); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("index 3 err = %v, want ErrIndexOutOfRange", err)
			}
			if _, err := r.MessageAtIndex(1, -1); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("index -1 err = %v, want ErrIndexOutOfRange", err)
			}
			if _, err := r.MessagesByIndex(1, 2, 1); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("inverted range err = %v, want ErrIndexOutOfRange", err)
			}
			if _, err := r.MessagesByIndex(1, 0, 4); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("range past end err = %v, want ErrIndexOutOfRange", err)
			}
		})
	}
}

func TestAttachmentsAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extras.mcap")
	w, err := CreateFile(path, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schemaID, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	ch, err := w.AddChannel(schemaID, "/fix", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	writeMsg(t, w, ch, 0, 10)
	err = w.WriteAttachment(&Attachment{
		LogTime:    5,
		CreateTime: 4,
		Name:       "calib",
		MediaType:  "application/octet-stream",
		Data:       []byte("intrinsics"),
	})
	if err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	err = w.WriteAttachment(&Attachment{LogTime: 6, Name: "notes", MediaType: "text/plain", Data: []byte("dusty lens")})
	if err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	err = w.WriteMetadata(&Metadata{Name: "rig", Metadata: map[string]string{"vehicle": "v1"}})
	if err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	atts, err := r.Attachments("calib")
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(atts) != 1 || string(atts[0].Data) != "intrinsics" || atts[0].CreateTime != 4 {
		t.Fatalf("attachment calib = %+v", atts)
	}
	all, err := r.Attachments("")
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("attachments = %d, want 2", len(all))
	}
	for _, idx := range r.Summary().AttachmentIndexes {
		if idx.DataSize == 0 || idx.Length == 0 {
			t.Fatalf("attachment index missing sizes: %+v", idx)
		}
	}

	meta, err := r.Metadata("rig")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(meta) != 1 || meta[0].Metadata["vehicle"] != "v1" {
		t.Fatalf("metadata rig = %+v", meta)
	}
	missing, err := r.Metadata("absent")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("metadata absent = %+v, want none", missing)
	}

	stats := r.Statistics()
	if stats.AttachmentCount != 2 || stats.MetadataCount != 1 {
		t.Fatalf("stats counts = %d attachments, %d metadata", stats.AttachmentCount, stats.MetadataCount)
	}
}

func TestAppendContinuesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.mcap")
	w, err := CreateFile(path, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schemaID, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	fix, err := w.AddChannel(schemaID, "/fix", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	writeMsg(t, w, fix, 0, 10)
	writeMsg(t, w, fix, 1, 20)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w2, err := OpenAppend(path, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	sid, err := w2.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
	if err != nil {
		t.Fatalf("add schema: %v", err)
	}
	if sid != schemaID {
		t.Fatalf("appended schema id = %d, want %d", sid, schemaID)
	}
	fix2, err := w2.AddChannel(sid, "/fix", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if fix2 != fix {
		t.Fatalf("appended channel id = %d, want %d", fix2, fix)
	}
	if seq := w2.NextSequence(fix2); seq != 2 {
		t.Fatalf("next sequence = %d, want 2", seq)
	}
	imu, err := w2.AddChannel(sid, "/imu", "cdr", nil)
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if imu != 2 {
		t.Fatalf("new channel id = %d, want 2", imu)
	}
	writeMsg(t, w2, fix2, 2, 30)
	writeMsg(t, w2, imu, 0, 25)
	if err := w2.Close(); err != nil {
		t.Fatalf("close appended: %v", err)
	}

	// CheckCRC proves the data section checksum still covers both sessions.
	r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if len(r.Schemas()) != 1 || len(r.Channels()) != 2 {
		t.Fatalf("schemas = %d, channels = %d, want 1 and 2", len(r.Schemas()), len(r.Channels()))
	}
	total, err := r.TotalMessageCount()
	if err != nil {
		t.Fatalf("total count: %v", err)
	}
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	it, err := r.Messages(Query{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	want := []msgKey{{1, 0, 10}, {1, 1, 20}, {2, 0, 25}, {1, 2, 30}}
	if got := collect(t, it); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if start, end := r.TimeRange(); start != 10 || end != 30 {
		t.Fatalf("time range = [%d, %d], want [10, 30]", start, end)
	}
}

func TestAppendHarmonizesChunking(t *testing.T) {
	t.Run("loose base stays loose", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loose.mcap")
		w, err := CreateFile(path, WriterOptions{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		sid, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
		if err != nil {
			t.Fatalf("add schema: %v", err)
		}
		ch, err := w.AddChannel(sid, "/fix", "cdr", nil)
		if err != nil {
			t.Fatalf("add channel: %v", err)
		}
		writeMsg(t, w, ch, 0, 10)
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		w2, err := OpenAppend(path, DefaultWriterOptions())
		if err != nil {
			t.Fatalf("open append: %v", err)
		}
		writeMsg(t, w2, ch, 1, 20)
		if err := w2.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer r.Close()
		if n := len(r.Summary().ChunkIndexes); n != 0 {
			t.Fatalf("chunk indexes = %d, want 0", n)
		}
		it, err := r.Messages(Query{})
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		want := []msgKey{{1, 0, 10}, {1, 1, 20}}
		if got := collect(t, it); !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("chunked base stays chunked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "chunked.mcap")
		w, err := CreateFile(path, DefaultWriterOptions())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		sid, err := w.AddSchema("test/Sample", "ros2msg", []byte("float64 value\n"))
		if err != nil {
			t.Fatalf("add schema: %v", err)
		}
		ch, err := w.AddChannel(sid, "/fix", "cdr", nil)
		if err != nil {
			t.Fatalf("add channel: %v", err)
		}
		writeMsg(t, w, ch, 0, 10)
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		w2, err := OpenAppend(path, WriterOptions{})
		if err != nil {
			t.Fatalf("open append: %v", err)
		}
		writeMsg(t, w2, ch, 1, 20)
		if err := w2.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer r.Close()
		if n := len(r.Summary().ChunkIndexes); n != 2 {
			t.Fatalf("chunk indexes = %d, want 2", n)
		}
		it, err := r.Messages(Query{})
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		want := []msgKey{{1, 0, 10}, {1, 1, 20}}
		if got := collect(t, it); !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	})
}

func TestReconstructedMatchesStored(t *testing.T) {
	path := buildOverlapFile(t, DefaultWriterOptions())

	stored, err := OpenFile(path, ReaderOptions{Reconstruction: ReconstructNever})
	if err != nil {
		t.Fatalf("open stored: %v", err)
	}
	defer stored.Close()
	recon, err := OpenFile(path, ReaderOptions{Reconstruction: ReconstructAlways})
	if err != nil {
		t.Fatalf("open reconstructed: %v", err)
	}
	defer recon.Close()

	if stored.Summary().Reconstructed {
		t.Fatal("stored summary marked reconstructed")
	}
	if !recon.Summary().Reconstructed {
		t.Fatal("reconstruction did not run")
	}
	if len(recon.Summary().Anomalies()) != 0 {
		t.Fatalf("intact file produced anomalies: %v", recon.Summary().Anomalies())
	}

	ss, rs := stored.Statistics(), recon.Statistics()
	if ss.MessageCount != rs.MessageCount || ss.ChunkCount != rs.ChunkCount {
		t.Fatalf("stats diverge: stored %+v, reconstructed %+v", ss, rs)
	}
	if !reflect.DeepEqual(ss.ChannelMessageCounts, rs.ChannelMessageCounts) {
		t.Fatalf("per-channel counts diverge: %v vs %v", ss.ChannelMessageCounts, rs.ChannelMessageCounts)
	}
	if len(stored.Summary().ChunkIndexes) != len(recon.Summary().ChunkIndexes) {
		t.Fatalf("chunk index counts diverge: %d vs %d",
			len(stored.Summary().ChunkIndexes), len(recon.Summary().ChunkIndexes))
	}
	s0, e0 := stored.TimeRange()
	s1, e1 := recon.TimeRange()
	if s0 != s1 || e0 != e1 {
		t.Fatalf("time ranges diverge: [%d, %d] vs [%d, %d]", s0, e0, s1, e1)
	}

	it0, err := stored.Messages(Query{})
	if err != nil {
		t.Fatalf("stored messages: %v", err)
	}
	it1, err := recon.Messages(Query{})
	if err != nil {
		t.Fatalf("reconstructed messages: %v", err)
	}
	if got0, got1 := collect(t, it0), collect(t, it1); !reflect.DeepEqual(got0, got1) {
		t.Fatalf("message streams diverge: %v vs %v", got0, got1)
	}
}

func TestReconstructTruncatedFile(t *testing.T) {
	orig := buildOverlapFile(t, DefaultWriterOptions())

	r0, err := OpenFile(orig, ReaderOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var lastChunk uint64
	for _, ci := range r0.Summary().ChunkIndexes {
		if ci.ChunkStartOffset > lastChunk {
			lastChunk = ci.ChunkStartOffset
		}
	}
	r0.Close()

	data, err := os.ReadFile(orig)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	cut := filepath.Join(t.TempDir(), "cut.mcap")
	// Sever the file partway into the last chunk record.
	if err := os.WriteFile(cut, data[:lastChunk+12], 0o644); err != nil {
		t.Fatalf("write truncated copy: %v", err)
	}

	if _, err := OpenFile(cut, ReaderOptions{Reconstruction: ReconstructNever}); err == nil {
		t.Fatal("truncated file opened without reconstruction")
	}

	r, err := OpenFile(cut, ReaderOptions{})
	if err != nil {
		t.Fatalf("open truncated: %v", err)
	}
	defer r.Close()
	s := r.Summary()
	if !s.Reconstructed {
		t.Fatal("summary not reconstructed")
	}
	if len(s.Anomalies()) == 0 {
		t.Fatal("no anomalies recorded for truncated file")
	}
	if s.DataSectionEnd != int64(lastChunk) {
		t.Fatalf("data section end = %d, want %d", s.DataSectionEnd, lastChunk)
	}
	if s.DataEndOffset != -1 {
		t.Fatalf("data end offset = %d, want -1", s.DataEndOffset)
	}

	it, err := r.Messages(Query{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	want := []msgKey{{1, 0, 10}, {2, 0, 15}, {1, 1, 20}, {2, 1, 25}}
	if got := collect(t, it); !reflect.DeepEqual(got, want) {
		t.Fatalf("salvaged %v, want %v", got, want)
	}
}

func TestAppendAfterTruncation(t *testing.T) {
	orig := buildOverlapFile(t, DefaultWriterOptions())
	r0, err := OpenFile(orig, ReaderOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var lastChunk uint64
	for _, ci := range r0.Summary().ChunkIndexes {
		if ci.ChunkStartOffset > lastChunk {
			lastChunk = ci.ChunkStartOffset
		}
	}
	r0.Close()

	data, err := os.ReadFile(orig)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	path := filepath.Join(t.TempDir(), "cut.mcap")
	if err := os.WriteFile(path, data[:lastChunk+12], 0o644); err != nil {
		t.Fatalf("write truncated copy: %v", err)
	}

	w, err := OpenAppend(path, DefaultWriterOptions())
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if seq := w.NextSequence(1); seq != 2 {
		t.Fatalf("next sequence = %d, want 2", seq)
	}
	writeMsg(t, w, 1, 2, 40)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenFile(path, ReaderOptions{CheckCRC: true})
	if err != nil {
		t.Fatalf("open repaired: %v", err)
	}
	defer r.Close()
	it, err := r.Messages(Query{})
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	want := []msgKey{{1, 0, 10}, {2, 0, 15}, {1, 1, 20}, {2, 1, 25}, {1, 2, 40}}
	if got := collect(t, it); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCheckCRCCatchesCorruption(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.Compression = CompressionNone
	orig := buildOverlapFile(t, opts)

	r0, err := OpenFile(orig, ReaderOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first := r0.Summary().ChunkIndexes[0].ChunkStartOffset
	r0.Close()

	data, err := os.ReadFile(orig)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	// Flip a byte inside the first chunk's records.
	data[first+uint64(RecordHeaderSize)+45]++
	path := filepath.Join(t.TempDir(), "corrupt.mcap")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupted copy: %v", err)
	}

	if _, err := OpenFile(path, ReaderOptions{CheckCRC: true}); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("open err = %v, want ErrChecksumMismatch", err)
	}
	// Without CRC checking the file still opens.
	r, err := OpenFile(path, ReaderOptions{})
	if err != nil {
		t.Fatalf("open without crc: %v", err)
	}
	r.Close()
}

func TestLoadSummaryMissingSummary(t *testing.T) {
	buf := rawio.NewBytesWriter()
	enc := NewEncoder(buf)
	if err := enc.WriteMagic(); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if err := enc.WriteHeader(&Header{Library: "x"}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := enc.WriteDataEnd(&DataEnd{}); err != nil {
		t.Fatalf("write data end: %v", err)
	}
	if err := enc.WriteFooter(&Footer{}); err != nil {
		t.Fatalf("write footer: %v", err)
	}
	if err := enc.WriteMagic(); err != nil {
		t.Fatalf("write magic: %v", err)
	}

	r := rawio.NewBytesReader(buf.Bytes())
	if _, err := LoadSummary(r, SummaryOptions{Reconstruction: ReconstructNever}); !errors.Is(err, ErrNoSummary) {
		t.Fatalf("err = %v, want ErrNoSummary", err)
	}
	s, err := LoadSummary(r, SummaryOptions{})
	if err != nil {
		t.Fatalf("reconstruct fallback: %v", err)
	}
	if !s.Reconstructed {
		t.Fatal("fallback did not reconstruct")
	}
	if s.MessageCount() != 0 {
		t.Fatalf("message count = %d, want 0", s.MessageCount())
	}
	if s.Header == nil || s.Header.Library != "x" {
		t.Fatalf("header = %+v", s.Header)
	}
}

func TestLoadSummaryTruncatedInput(t *testing.T) {
	r := rawio.NewBytesReader(Magic)
	if _, err := LoadSummary(r, SummaryOptions{}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestSummaryLookups(t *testing.T) {
	r, err := OpenFile(buildOverlapFile(t, DefaultWriterOptions()), ReaderOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	s := r.Summary()

	id, ok := s.ChannelIDForTopic("/imu")
	if !ok || id != 2 {
		t.Fatalf("channel for /imu = %d, %v", id, ok)
	}
	if _, ok := s.ChannelIDForTopic("/nope"); ok {
		t.Fatal("found channel for unknown topic")
	}
	sid, ok := s.SchemaIDForName("test/Sample", "ros2msg")
	if !ok || sid != 1 {
		t.Fatalf("schema for test/Sample = %d, %v", sid, ok)
	}
	if _, ok := s.SchemaIDForName("test/Sample", "protobuf"); ok {
		t.Fatal("found schema under wrong encoding")
	}
	if next := s.NextSchemaID(); next != 2 {
		t.Fatalf("next schema id = %d, want 2", next)
	}
	if next := s.NextChannelID(); next != 3 {
		t.Fatalf("next channel id = %d, want 3", next)
	}
	if seq := s.NextSequence(1); seq != 3 {
		t.Fatalf("next sequence = %d, want 3", seq)
	}
	if seq := s.NextSequence(9); seq != 0 {
		t.Fatalf("next sequence for unknown channel = %d, want 0", seq)
	}
}
