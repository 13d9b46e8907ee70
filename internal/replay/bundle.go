package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Event is a single decoded entry of the event log.
type Event struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Type        string
	Payload     json.RawMessage
}

// Frame is a single decoded entry of the frame stream.
type Frame struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Bundle is a fully loaded match recording.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Events   []Event
	Frames   []Frame
}

// ReadManifest loads only the manifest of a recording. The path may name the bundle
// directory or its manifest; the returned string is the bundle directory.
func ReadManifest(path string) (Manifest, string, error) {
	if path == "" {
		return Manifest{}, "", fmt.Errorf("path is required")
	}
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return Manifest{}, "", err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestName)
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, "", err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, "", err
	}
	if manifest.Version != ManifestVersion {
		return Manifest{}, "", fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	return manifest, filepath.Dir(manifestPath), nil
}

// ReadBundle loads the manifest, events and frames of a recording. The path may name
// the bundle directory or its manifest.
func ReadBundle(path string) (Bundle, error) {
	//1.- Locate the manifest so asset paths resolve relative to it.
	manifest, dir, err := ReadManifest(path)
	if err != nil {
		return Bundle{}, err
	}

	//2.- Decode events first, frames afterwards.
	events, err := readEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return Bundle{}, fmt.Errorf("read events: %w", err)
	}
	frames, err := readFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return Bundle{}, fmt.Errorf("read frames: %w", err)
	}
	return Bundle{Dir: dir, Manifest: manifest, Events: events, Frames: frames}, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Tick:        raw.Tick,
			SimulatedMs: raw.SimulatedMs,
			CapturedAt:  captured,
			Type:        raw.Type,
			Payload:     raw.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset+frameHeader <= len(payload) {
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		sim := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		captured := int64(binary.LittleEndian.Uint64(payload[offset+16 : offset+24]))
		size := int(binary.LittleEndian.Uint32(payload[offset+24 : offset+28]))
		offset += frameHeader
		if offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated")
		}
		frames = append(frames, Frame{
			Tick:        tick,
			SimulatedMs: sim,
			CapturedAt:  time.Unix(0, captured).UTC(),
			Payload:     append([]byte(nil), payload[offset:offset+size]...),
		})
		offset += size
	}
	if offset != len(payload) {
		return nil, fmt.Errorf("trailing %d bytes in frame stream", len(payload)-offset)
	}
	return frames, nil
}
