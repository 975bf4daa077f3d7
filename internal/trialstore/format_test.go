package trialstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	payload, err := encodePayload(testSignal(2), testLabels(5))
	if err != nil {
		t.Fatal(err)
	}

	frame, frameErr := encodeFrame("42", payload)
	if frameErr != nil {
		t.Fatal(frameErr)
	}

	log := append(encodeHeader(), frame...)

	frames, validEnd, scanErr := scanLog(bytes.NewReader(log), int64(len(log)))
	if scanErr != nil {
		t.Fatalf("scanLog failed: %v", scanErr)
	}

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	if validEnd != int64(len(log)) {
		t.Errorf("validEnd = %d, want %d", validEnd, len(log))
	}

	fi := frames[0]

	if fi.key != "42" {
		t.Errorf("key = %q, want %q", fi.key, "42")
	}

	if verifyErr := verifyFrame(bytes.NewReader(log), fi); verifyErr != nil {
		t.Errorf("verifyFrame failed: %v", verifyErr)
	}

	signal, labels, decodeErr := decodePayload(log[fi.payloadOff : fi.payloadOff+int64(fi.payloadLen)])
	if decodeErr != nil {
		t.Fatal(decodeErr)
	}

	if diff := cmp.Diff(testSignal(2), signal); diff != "" {
		t.Errorf("signal mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(testLabels(5), labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := encodeFrame("", []byte("payload"))
	if err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestScanRejectsZeroLengthFrame(t *testing.T) {
	t.Parallel()

	// A fully present frame claiming a zero-length key is damage, not a
	// torn tail.
	log := append(encodeHeader(), 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)

	_, _, err := scanLog(bytes.NewReader(log), int64(len(log)))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestScanRejectsBadVersion(t *testing.T) {
	t.Parallel()

	log := encodeHeader()
	log[4] = 0xff

	_, _, err := scanLog(bytes.NewReader(log), int64(len(log)))
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}

func TestDecodePayloadGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := decodePayload([]byte("not a gob stream"))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLabelScalarsSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	labels := map[string]any{
		"subject":  7,
		"trial":    int64(12),
		"weight":   0.5,
		"task":     "imagery",
		"baseline": false,
	}

	payload, err := encodePayload([][]float64{{1}}, labels)
	if err != nil {
		t.Fatal(err)
	}

	_, decoded, decodeErr := decodePayload(payload)
	if decodeErr != nil {
		t.Fatal(decodeErr)
	}

	if diff := cmp.Diff(labels, decoded); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestScanTornFrameHeader(t *testing.T) {
	t.Parallel()

	payload, _ := encodePayload(testSignal(0), testLabels(1))
	frame, _ := encodeFrame("0", payload)

	log := append(encodeHeader(), frame...)

	// Fewer bytes than a frame header: torn, not corrupt.
	log = append(log, 0x01, 0x00, 0x05)

	frames, validEnd, err := scanLog(bytes.NewReader(log), int64(len(log)))
	if err != nil {
		t.Fatalf("scanLog failed: %v", err)
	}

	if len(frames) != 1 {
		t.Errorf("expected 1 frame, got %d", len(frames))
	}

	want := int64(len(log) - 3)
	if validEnd != want {
		t.Errorf("validEnd = %d, want %d", validEnd, want)
	}
}
