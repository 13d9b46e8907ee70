package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterAppendAndFlushCadence(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Test Match!", map[string]string{"ballSpeed": "FAST"}, clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if manifest.FrameIntervalMs != 200 {
		t.Fatalf("expected frame interval 200 ms, got %d", manifest.FrameIntervalMs)
	}
	if filepath.Base(writer.Directory()) != "TestMatch-20240710T120000.000Z" {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}

	if err := writer.AppendEvent(10, 33, "start", map[string]int{"left": 0}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	//1.- Stage three frames; the third crosses the flush interval.
	framePayload := []byte{0x01, 0x02, 0x03}
	if err := writer.AppendFrame(1, 100, framePayload); err != nil {
		t.Fatalf("append frame 1: %v", err)
	}
	now = now.Add(100 * time.Millisecond)
	if err := writer.AppendFrame(2, 200, framePayload); err != nil {
		t.Fatalf("append frame 2: %v", err)
	}
	if len(writer.pending) != 2 {
		t.Fatalf("expected frames to stay buffered before the interval, got %d", len(writer.pending))
	}
	now = now.Add(120 * time.Millisecond)
	if err := writer.AppendFrame(3, 300, framePayload); err != nil {
		t.Fatalf("append frame 3: %v", err)
	}
	if len(writer.pending) != 0 {
		t.Fatalf("expected pending frames flushed, got %d", len(writer.pending))
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := writer.AppendEvent(11, 34, "late", nil); err == nil {
		t.Fatal("expected append after close to fail")
	}

	//2.- Read the bundle back through the public reader.
	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if bundle.Manifest.MatchID != "Test Match!" || bundle.Manifest.Settings["ballSpeed"] != "FAST" {
		t.Fatalf("unexpected manifest %+v", bundle.Manifest)
	}
	if len(bundle.Events) != 1 || bundle.Events[0].Type != "start" || bundle.Events[0].Tick != 10 {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	var payload map[string]int
	if err := json.Unmarshal(bundle.Events[0].Payload, &payload); err != nil || payload["left"] != 0 {
		t.Fatalf("unexpected event payload %s (%v)", bundle.Events[0].Payload, err)
	}
	if len(bundle.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(bundle.Frames))
	}
	for i, frame := range bundle.Frames {
		if frame.Tick != uint64(i+1) || frame.SimulatedMs != int64((i+1)*100) {
			t.Fatalf("unexpected frame %d metadata %+v", i, frame)
		}
		if string(frame.Payload) != string(framePayload) {
			t.Fatalf("unexpected frame %d payload %v", i, frame.Payload)
		}
	}
	if !bundle.Frames[2].CapturedAt.Equal(base.Add(220 * time.Millisecond)) {
		t.Fatalf("unexpected capture time %v", bundle.Frames[2].CapturedAt)
	}
}

func TestReadBundleAcceptsManifestPath(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "m", nil, nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	bundle, err := ReadBundle(filepath.Join(writer.Directory(), "manifest.json"))
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if len(bundle.Events) != 0 || len(bundle.Frames) != 0 {
		t.Fatalf("expected empty bundle, got %+v", bundle)
	}
}

func TestReadBundleRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"version":9}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := ReadBundle(dir); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := ReadBundle(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewWriterRequiresRoot(t *testing.T) {
	if _, _, err := NewWriter("", "m", nil, nil); err == nil {
		t.Fatal("expected error for empty root")
	}
	var writer *Writer
	if err := writer.AppendFrame(1, 1, nil); err == nil {
		t.Fatal("expected nil writer to reject frames")
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("nil close should be a no-op: %v", err)
	}
}
