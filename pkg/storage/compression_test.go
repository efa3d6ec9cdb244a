package storage

import (
	"strconv"
	"testing"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

func TestCompressTimestamps(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Regular intervals with a little jitter
	now := time.Now().UnixNano()
	timestamps := make([]int64, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = now + int64(i)*int64(time.Minute) + int64(i%3)*int64(time.Millisecond)
	}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	originalSize := len(timestamps) * 8
	if len(compressed) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d",
			originalSize, len(compressed))
	}

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decompressed) != len(timestamps) {
		t.Fatalf("Length mismatch: expected %d, got %d",
			len(timestamps), len(decompressed))
	}

	for i := range timestamps {
		if timestamps[i] != decompressed[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, timestamps[i], decompressed[i])
		}
	}
}

func TestCompressStates(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	states := []string{"21.5", "", "unavailable", "21,7", "on", ""}

	compressed, err := comp.CompressStates(states)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	decompressed, err := comp.DecompressStates(compressed, len(states))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i := range states {
		if states[i] != decompressed[i] {
			t.Errorf("State mismatch at %d: expected %q, got %q",
				i, states[i], decompressed[i])
		}
	}
}

func TestDecompressStatesTruncated(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	compressed, err := comp.CompressStates([]string{"1", "2"})
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	if _, err := comp.DecompressStates(compressed, 3); err == nil {
		t.Error("Expected error when asking for more states than stored")
	}
}

func TestEncodeRecord(t *testing.T) {
	comp, err := NewCompressor(3)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.CacheRecord{
		HoursToShow: 24,
		LastFetched: base.Add(time.Hour),
		Data: []types.Sample{
			{Timestamp: base, State: "10"},
			{Timestamp: base.Add(30 * time.Minute), State: "20.25"},
			{Timestamp: base.Add(time.Hour), State: "unknown"},
		},
	}

	data, err := comp.EncodeRecord(rec)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded, err := comp.DecodeRecord(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if decoded.HoursToShow != rec.HoursToShow {
		t.Errorf("Expected hours %v, got %v", rec.HoursToShow, decoded.HoursToShow)
	}
	if !decoded.LastFetched.Equal(rec.LastFetched) {
		t.Errorf("Expected last fetched %v, got %v", rec.LastFetched, decoded.LastFetched)
	}
	if len(decoded.Data) != len(rec.Data) {
		t.Fatalf("Expected %d samples, got %d", len(rec.Data), len(decoded.Data))
	}
	for i := range rec.Data {
		if !decoded.Data[i].Timestamp.Equal(rec.Data[i].Timestamp) || decoded.Data[i].State != rec.Data[i].State {
			t.Errorf("Sample %d mismatch: expected %+v, got %+v", i, rec.Data[i], decoded.Data[i])
		}
	}
}

func TestEncodeEmptyRecord(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	data, err := comp.EncodeRecord(&types.CacheRecord{HoursToShow: 1})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded, err := comp.DecodeRecord(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(decoded.Data) != 0 {
		t.Errorf("Expected no samples, got %d", len(decoded.Data))
	}
}

func TestDecodeRecordGarbage(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	if _, err := comp.DecodeRecord([]byte("not a record")); err == nil {
		t.Error("Expected error decoding garbage")
	}
	if _, err := comp.DecodeRecord([]byte(`{"count":2,"ts":"AAAA"}`)); err == nil {
		t.Error("Expected error decoding corrupt timestamp block")
	}
}

func TestCompressionLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(tc.level)
			if err != nil {
				t.Fatalf("Failed to create compressor at level %d: %v",
					tc.level, err)
			}
			defer comp.Close()

			states := []string{"1.0", "2.0", "3.0", "4.0", "5.0"}
			compressed, err := comp.CompressStates(states)
			if err != nil {
				t.Fatalf("Compression failed: %v", err)
			}

			decompressed, err := comp.DecompressStates(compressed, len(states))
			if err != nil {
				t.Fatalf("Decompression failed: %v", err)
			}

			for i := range states {
				if states[i] != decompressed[i] {
					t.Errorf("Mismatch at index %d", i)
				}
			}
		})
	}
}

func BenchmarkCompressTimestamps(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	now := time.Now().UnixNano()
	timestamps := make([]int64, 1000)
	for i := 0; i < 1000; i++ {
		timestamps[i] = now + int64(i)*int64(time.Minute)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressTimestamps(timestamps)
	}
}

func BenchmarkEncodeRecord(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	now := time.Now()
	rec := &types.CacheRecord{HoursToShow: 24, LastFetched: now}
	for i := 0; i < 1000; i++ {
		rec.Data = append(rec.Data, types.Sample{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			State:     strconv.FormatFloat(20+float64(i%7)/10, 'f', -1, 64),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.EncodeRecord(rec)
	}
}
