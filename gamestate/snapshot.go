package gamestate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/entity-scripting/errors"
)

// WriteSnapshot writes the store as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, s *Store) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidInput, err, "create zstd writer")
	}
	bw := bufio.NewWriter(enc)
	if err := json.NewEncoder(bw).Encode(s.Snapshot()); err != nil {
		_ = enc.Close()
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "encode snapshot")
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "flush snapshot")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "close zstd writer")
	}
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot into s, replacing
// its contents.
func ReadSnapshot(r io.Reader, s *Store) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "open zstd reader")
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&snap); err != nil {
		return errors.Wrap(errors.PhaseStorage, errors.KindInvalidData, err, "decode snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.InvalidData(errors.PhaseStorage, nil, fmt.Sprintf("snapshot version %d, want %d", snap.Version, snapshotVersion))
	}
	s.Restore(snap)
	return nil
}
