package ncm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Container is the parsed header of an encrypted audio file.
type Container struct {
	KeyBlob  []byte // scrambled, encrypted key material
	MetaBlob []byte // scrambled, encrypted metadata
	Cover    []byte // cover art, stored as-is

	// PayloadOffset is the absolute offset of the first audio byte.
	PayloadOffset int64
}

// ReadContainer parses the container header from r. On success r is
// positioned on the first byte of the audio payload.
func ReadContainer(r io.ReadSeeker, p Profile) (*Container, error) {
	if err := verifyMagic(r, p.Magic); err != nil {
		return nil, err
	}

	if err := skip(r, int64(p.ChecksumLen), "checksum"); err != nil {
		return nil, err
	}

	keyBlob, err := readBlock(r, "key blob")
	if err != nil {
		return nil, err
	}

	metaBlob, err := readBlock(r, "metadata blob")
	if err != nil {
		return nil, err
	}

	if err := skip(r, int64(p.CoverGap), "cover crc"); err != nil {
		return nil, err
	}

	cover, err := readBlock(r, "cover block")
	if err != nil {
		return nil, err
	}

	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("%w: locating payload: %w", ErrIO, err)
	}

	return &Container{
		KeyBlob:       keyBlob,
		MetaBlob:      metaBlob,
		Cover:         cover,
		PayloadOffset: offset,
	}, nil
}

func verifyMagic(r io.Reader, magic [8]byte) error {
	var header [8]byte
	if err := readFull(r, header[:], "magic"); err != nil {
		return err
	}
	if !bytes.Equal(header[:], magic[:]) {
		return ErrNotContainer
	}
	return nil
}

// readBlock reads a 4-byte little-endian length followed by that many bytes.
func readBlock(r io.Reader, what string) ([]byte, error) {
	var length [4]byte
	if err := readFull(r, length[:], what+" length"); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(length[:])
	// Grow with the data instead of trusting the declared length up front, so
	// a corrupt length cannot force a huge allocation.
	var buf bytes.Buffer
	copied, err := io.CopyN(&buf, r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s declares %d bytes, only %d available: %w",
				ErrMalformedContainer, what, n, copied, io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, what, err)
	}
	return buf.Bytes(), nil
}

func readFull(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated %s: %w", ErrMalformedContainer, what, io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("%w: reading %s: %w", ErrIO, what, err)
	}
	return nil
}

// skip moves past n bytes that carry nothing the decoder needs. Seeking past
// the end is not an error by itself; the next read reports the truncation.
func skip(r io.Seeker, n int64, what string) error {
	if n == 0 {
		return nil
	}
	if _, err := r.Seek(n, io.SeekCurrent); err != nil {
		return fmt.Errorf("%w: skipping %s: %w", ErrIO, what, err)
	}
	return nil
}
