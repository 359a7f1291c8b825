package bagops

import (
	"strings"
	"testing"

	"github.com/bagworks/gobag/pkg/mcap"
)

func TestInfo(t *testing.T) {
	path := fixturePath(t, mcap.CompressionZstd)

	fi, err := Info(testCtx(), path)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	if fi.Profile != "ros2" {
		t.Errorf("profile %q, want ros2", fi.Profile)
	}
	if fi.MessageCount != 5 {
		t.Errorf("message count %d, want 5", fi.MessageCount)
	}
	if fi.ChannelCount != 2 || fi.SchemaCount != 1 {
		t.Errorf("got %d channels and %d schemas, want 2 and 1", fi.ChannelCount, fi.SchemaCount)
	}
	if fi.ChunkCount != 3 {
		t.Errorf("chunk count %d, want 3", fi.ChunkCount)
	}
	if fi.AttachmentCount != 1 || fi.MetadataCount != 1 {
		t.Errorf("got %d attachments and %d metadata, want 1 and 1", fi.AttachmentCount, fi.MetadataCount)
	}
	if fi.MessageStartTime != 100 || fi.MessageEndTime != 300 {
		t.Errorf("time range [%d, %d], want [100, 300]", fi.MessageStartTime, fi.MessageEndTime)
	}
	if fi.Reconstructed {
		t.Error("intact file reported as reconstructed")
	}

	if len(fi.Topics) != 2 || fi.Topics[0].Topic != "/a" || fi.Topics[1].Topic != "/b" {
		t.Fatalf("topics %+v, want /a then /b", fi.Topics)
	}
	if fi.Topics[0].MessageCount != 3 || fi.Topics[1].MessageCount != 2 {
		t.Errorf("topic counts %d and %d, want 3 and 2", fi.Topics[0].MessageCount, fi.Topics[1].MessageCount)
	}
	if fi.Topics[0].SchemaName != "test/Sample" {
		t.Errorf("topic /a schema %q, want test/Sample", fi.Topics[0].SchemaName)
	}
	if fi.Topics[0].Frequency <= 0 {
		t.Errorf("topic /a frequency %f, want > 0", fi.Topics[0].Frequency)
	}

	if len(fi.Compression) != 1 || fi.Compression[0].Compression != mcap.CompressionZstd {
		t.Fatalf("compression breakdown %+v, want one zstd entry", fi.Compression)
	}
	if fi.Compression[0].Chunks != 3 {
		t.Errorf("zstd chunk count %d, want 3", fi.Compression[0].Chunks)
	}
}

func TestInfoString(t *testing.T) {
	path := fixturePath(t, mcap.CompressionZstd)

	fi, err := Info(testCtx(), path)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	s := fi.String()
	for _, want := range []string{"/a", "/b", "test/Sample", "Messages", "ros2"} {
		if !strings.Contains(s, want) {
			t.Errorf("report missing %q:\n%s", want, s)
		}
	}
}
