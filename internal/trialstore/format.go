package trialstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
)

// Record log format constants.
//
// The log is a fixed header followed by frames:
//
//	header:  magic "EPC1" | u16 version | 10 reserved bytes
//	frame:   u16 keyLen | u32 payloadLen | key | payload | u32 crc
//
// All integers are little-endian. The CRC (IEEE) covers the frame from
// keyLen through the last payload byte.
const (
	logMagic   = "EPC1"
	logVersion = 1

	logHeaderSize   = 16
	frameHeaderSize = 6
	frameCRCSize    = 4

	maxKeyLen = 1<<16 - 1
)

// record is the gob-encoded frame payload.
//
// Label values are restricted to scalars (string, bool, int family,
// float64), all of which gob transmits inside interface values without
// explicit registration.
type record struct {
	Signal [][]float64
	Labels map[string]any
}

// frameInfo locates one scanned frame inside the log.
type frameInfo struct {
	key        string
	frameOff   int64 // offset of the frame header
	payloadOff int64 // offset of the payload bytes
	payloadLen int
	end        int64 // offset just past the trailing CRC
}

// encodePayload gob-encodes a record.
func encodePayload(signal [][]float64, labels map[string]any) ([]byte, error) {
	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(record{Signal: signal, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	return buf.Bytes(), nil
}

// decodePayload decodes a gob-encoded record payload.
func decodePayload(payload []byte) ([][]float64, map[string]any, error) {
	var rec record

	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decoding record: %w", ErrCorrupt, err)
	}

	return rec.Signal, rec.Labels, nil
}

// encodeFrame builds a complete frame (header, key, payload, CRC).
func encodeFrame(key string, payload []byte) ([]byte, error) {
	if key == "" || len(key) > maxKeyLen {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}

	frame := make([]byte, frameHeaderSize+len(key)+len(payload)+frameCRCSize)

	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(key)))
	binary.LittleEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[frameHeaderSize:], key)
	copy(frame[frameHeaderSize+len(key):], payload)

	crc := crc32.ChecksumIEEE(frame[:frameHeaderSize+len(key)+len(payload)])
	binary.LittleEndian.PutUint32(frame[len(frame)-frameCRCSize:], crc)

	return frame, nil
}

// encodeHeader builds the log file header.
func encodeHeader() []byte {
	header := make([]byte, logHeaderSize)

	copy(header, logMagic)
	binary.LittleEndian.PutUint16(header[4:6], logVersion)

	return header
}

// validateHeader checks the log magic and version.
func validateHeader(header []byte) error {
	if len(header) < logHeaderSize {
		return fmt.Errorf("%w: header too small (%d bytes)", ErrIncompatible, len(header))
	}

	if string(header[0:4]) != logMagic {
		return fmt.Errorf("%w: bad magic", ErrIncompatible)
	}

	version := binary.LittleEndian.Uint16(header[4:6])
	if version != logVersion {
		return fmt.Errorf("%w: log version %d, want %d", ErrIncompatible, version, logVersion)
	}

	return nil
}

// scanLog walks every frame in the log.
//
// It returns the frames that are fully present plus the offset just past
// the last complete frame. A frame that extends beyond EOF is a torn tail
// (crash during append): it is not returned and not an error. Malformed
// frames fully inside the file report [ErrCorrupt].
//
// Payload CRCs are not verified here; readers verify lazily on access so
// opening a large store stays cheap.
func scanLog(r io.ReaderAt, size int64) ([]frameInfo, int64, error) {
	if size < logHeaderSize {
		return nil, 0, fmt.Errorf("%w: log smaller than header", ErrIncompatible)
	}

	header := make([]byte, logHeaderSize)

	_, err := r.ReadAt(header, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("reading log header: %w", err)
	}

	headerErr := validateHeader(header)
	if headerErr != nil {
		return nil, 0, headerErr
	}

	var frames []frameInfo

	off := int64(logHeaderSize)

	for off < size {
		if off+frameHeaderSize > size {
			break // torn tail
		}

		fh := make([]byte, frameHeaderSize)

		_, readErr := r.ReadAt(fh, off)
		if readErr != nil {
			return nil, 0, fmt.Errorf("reading frame header at %d: %w", off, readErr)
		}

		keyLen := int(binary.LittleEndian.Uint16(fh[0:2]))
		payloadLen := int(binary.LittleEndian.Uint32(fh[2:6]))

		end := off + frameHeaderSize + int64(keyLen) + int64(payloadLen) + frameCRCSize
		if end > size {
			break // torn tail
		}

		// A zero key or zero payload can never be produced by a committed
		// Put, so a full frame claiming one is damage, not a torn write.
		if keyLen == 0 || payloadLen == 0 {
			return nil, 0, fmt.Errorf("%w: malformed frame at offset %d", ErrCorrupt, off)
		}

		keyBytes := make([]byte, keyLen)

		_, keyErr := r.ReadAt(keyBytes, off+frameHeaderSize)
		if keyErr != nil {
			return nil, 0, fmt.Errorf("reading frame key at %d: %w", off, keyErr)
		}

		frames = append(frames, frameInfo{
			key:        string(keyBytes),
			frameOff:   off,
			payloadOff: off + frameHeaderSize + int64(keyLen),
			payloadLen: payloadLen,
			end:        end,
		})

		off = end
	}

	return frames, off, nil
}

// verifyFrame recomputes a frame's CRC from r and compares it to the
// stored trailer.
func verifyFrame(r io.ReaderAt, fi frameInfo) error {
	bodyLen := fi.end - fi.frameOff - frameCRCSize

	body := make([]byte, bodyLen+frameCRCSize)

	_, err := r.ReadAt(body, fi.frameOff)
	if err != nil {
		return fmt.Errorf("reading frame %q: %w", fi.key, err)
	}

	want := binary.LittleEndian.Uint32(body[bodyLen:])

	if crc32.ChecksumIEEE(body[:bodyLen]) != want {
		return fmt.Errorf("%w: crc mismatch for record %q", ErrCorrupt, fi.key)
	}

	return nil
}
