package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/minigraph/pkg/types"
)

// Compressor handles compression of cached history records
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// recordPayload is the envelope stored for a compressed record
type recordPayload struct {
	HoursToShow      float64   `json:"hours_to_show"`
	LastFetched      time.Time `json:"last_fetched"`
	Count            int       `json:"count"`
	CompressedTS     []byte    `json:"ts,omitempty"`
	CompressedStates []byte    `json:"states,omitempty"`
}

// NewCompressor creates a new compressor
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeRecord serializes and compresses a cache record
func (c *Compressor) EncodeRecord(rec *types.CacheRecord) ([]byte, error) {
	timestamps := make([]int64, len(rec.Data))
	states := make([]string, len(rec.Data))
	for i, sample := range rec.Data {
		timestamps[i] = sample.Timestamp.UnixNano()
		states[i] = sample.State
	}

	compressedTS, err := c.CompressTimestamps(timestamps)
	if err != nil {
		return nil, fmt.Errorf("failed to compress timestamps: %w", err)
	}

	compressedStates, err := c.CompressStates(states)
	if err != nil {
		return nil, fmt.Errorf("failed to compress states: %w", err)
	}

	payload := &recordPayload{
		HoursToShow:      rec.HoursToShow,
		LastFetched:      rec.LastFetched,
		Count:            len(rec.Data),
		CompressedTS:     compressedTS,
		CompressedStates: compressedStates,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodeRecord reverses EncodeRecord
func (c *Compressor) DecodeRecord(data []byte) (*types.CacheRecord, error) {
	var payload recordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.Count < 0 {
		return nil, fmt.Errorf("invalid sample count %d", payload.Count)
	}

	timestamps, err := c.DecompressTimestamps(payload.CompressedTS, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}

	states, err := c.DecompressStates(payload.CompressedStates, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress states: %w", err)
	}

	samples := make([]types.Sample, payload.Count)
	for i := 0; i < payload.Count; i++ {
		samples[i] = types.Sample{
			Timestamp: time.Unix(0, timestamps[i]).UTC(),
			State:     states[i],
		}
	}

	return &types.CacheRecord{
		HoursToShow: payload.HoursToShow,
		LastFetched: payload.LastFetched,
		Data:        samples,
	}, nil
}

// CompressTimestamps compresses a series of timestamps using delta-of-delta varints + zstd
func (c *Compressor) CompressTimestamps(timestamps []int64) ([]byte, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	buf := binary.AppendVarint(nil, timestamps[0])

	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressTimestamps decompresses count timestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("missing timestamp block for %d samples", count)
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	timestamps := make([]int64, count)

	if timestamps[0], err = binary.ReadVarint(buf); err != nil {
		return nil, err
	}

	var prevDelta int64
	for i := 1; i < count; i++ {
		deltaOfDelta, err := binary.ReadVarint(buf)
		if err != nil {
			return nil, err
		}

		delta := deltaOfDelta + prevDelta
		timestamps[i] = timestamps[i-1] + delta
		prevDelta = delta
	}

	return timestamps, nil
}

// CompressStates compresses raw states as length-prefixed strings + zstd
func (c *Compressor) CompressStates(states []string) ([]byte, error) {
	if len(states) == 0 {
		return nil, nil
	}

	var buf []byte
	for _, state := range states {
		buf = binary.AppendUvarint(buf, uint64(len(state)))
		buf = append(buf, state...)
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressStates decompresses count states
func (c *Compressor) DecompressStates(data []byte, count int) ([]string, error) {
	if count == 0 {
		return nil, nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("missing state block for %d samples", count)
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	states := make([]string, count)
	for i := 0; i < count; i++ {
		n, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, err
		}
		if n > uint64(buf.Len()) {
			return nil, fmt.Errorf("state %d length %d exceeds block", i, n)
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(buf, raw); err != nil {
			return nil, err
		}
		states[i] = string(raw)
	}

	return states, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
