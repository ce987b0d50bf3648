package ncm

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// DefaultBufferSize is the chunk size used when streaming the payload.
const DefaultBufferSize = 32 * 1024

// Options configure a Decoder.
type Options struct {
	Profile    Profile // zero value means DefaultProfile()
	BufferSize int     // payload chunk size, DefaultBufferSize if <= 0
	WriteTags  bool    // copy metadata and cover into the decoded file
	Logger     *logrus.Logger
}

// Decoder turns containers back into plain audio files. It only holds
// immutable state and may be shared between goroutines.
type Decoder struct {
	profile   Profile
	coreBlock cipher.Block
	metaBlock cipher.Block
	bufSize   int
	writeTags bool
	log       *logrus.Logger
}

// Result describes one decoded file.
type Result struct {
	Input    string
	Output   string
	Format   string
	Size     int64 // payload bytes written
	Metadata *Metadata
}

// Info is the header summary returned by Inspect.
type Info struct {
	Path           string
	KeyMaterialLen int
	Metadata       *Metadata
	Cover          []byte
	PayloadOffset  int64
	PayloadSize    int64
}

// NewDecoder builds a Decoder, filling unset options with defaults.
func NewDecoder(opts Options) *Decoder {
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Decoder{
		profile:   opts.Profile,
		coreBlock: newBlock(opts.Profile.CoreKey),
		metaBlock: newBlock(opts.Profile.MetaKey),
		bufSize:   opts.BufferSize,
		writeTags: opts.WriteTags,
		log:       opts.Logger,
	}
}

// KeyMaterial recovers the key schedule seed from a key blob.
func (d *Decoder) KeyMaterial(blob []byte) ([]byte, error) {
	plaintext, err := decryptECB(d.coreBlock, descramble(d.profile.CoreMask, blob))
	if err != nil {
		return nil, fmt.Errorf("decrypting key blob: %w", err)
	}
	if len(plaintext) <= d.profile.KeyPrefixLen {
		return nil, fmt.Errorf("%w: key blob holds %d bytes, no key material after the %d byte prefix",
			ErrCipher, len(plaintext), d.profile.KeyPrefixLen)
	}
	return plaintext[d.profile.KeyPrefixLen:], nil
}

// header runs every stage that precedes the payload. src is left on the
// first audio byte.
func (d *Decoder) header(src io.ReadSeeker) (*Container, []byte, *Metadata, error) {
	c, err := ReadContainer(src, d.profile)
	if err != nil {
		return nil, nil, nil, err
	}

	material, err := d.KeyMaterial(c.KeyBlob)
	if err != nil {
		return nil, nil, nil, err
	}

	meta, err := d.ReadMetadata(c.MetaBlob)
	if err != nil {
		return nil, nil, nil, err
	}

	return c, material, meta, nil
}

// DecodeStream XORs everything left in src with the keystream of box and
// writes it to dst one chunk at a time. It returns the number of bytes
// written.
func (d *Decoder) DecodeStream(dst io.Writer, src io.Reader, box KeyBox) (int64, error) {
	ks := NewKeystream(box)
	buf := make([]byte, d.bufSize)

	var pos int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			ks.XORKeyStreamAt(buf[:n], buf[:n], pos)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return pos, fmt.Errorf("%w: writing payload at %d: %w", ErrIO, pos, werr)
			}
			pos += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return pos, nil
		}
		if err != nil {
			return pos, fmt.Errorf("%w: reading payload at %d: %w", ErrIO, pos, err)
		}
	}
}

// Decode runs the whole pipeline on an open container and writes the audio
// to dst.
func (d *Decoder) Decode(src io.ReadSeeker, dst io.Writer) (*Result, error) {
	_, material, meta, err := d.header(src)
	if err != nil {
		return nil, err
	}

	box, err := BuildKeyBox(material)
	if err != nil {
		return nil, err
	}

	n, err := d.DecodeStream(dst, src, box)
	if err != nil {
		return nil, err
	}

	return &Result{Format: meta.Format, Size: n, Metadata: meta}, nil
}

// OutputClaim reserves the final output path of a decode. It is called once
// the header is decoded and before anything is written; an error aborts the
// file and is returned unchanged.
type OutputClaim func(outPath string) error

// DecodeFile decodes inputPath into outDir/<name>.<format>. The output only
// appears under its final name once it is complete; on failure nothing is
// left behind. Context errors are returned as-is.
func (d *Decoder) DecodeFile(ctx context.Context, inputPath, outDir string) (*Result, error) {
	return d.DecodeFileClaim(ctx, inputPath, outDir, nil)
}

// DecodeFileClaim is DecodeFile with claim consulted for the output path.
// A nil claim accepts every path.
func (d *Decoder) DecodeFileClaim(ctx context.Context, inputPath, outDir string, claim OutputClaim) (res *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open %s: %w", ErrIO, inputPath, err)
	}
	defer file.Close()

	log := d.log.WithField("file", inputPath)

	c, material, meta, err := d.header(file)
	if err != nil {
		return nil, err
	}

	box, err := BuildKeyBox(material)
	if err != nil {
		return nil, err
	}

	name, err := OutputName(inputPath, meta.Format)
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(outDir, name)
	if claim != nil {
		if err := claim(outPath); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"format":  meta.Format,
		"key_len": len(material),
		"offset":  c.PayloadOffset,
	}).Debug("header decoded")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: error creating output directory %s: %w", ErrIO, outDir, err)
	}

	tmp, err := os.CreateTemp(outDir, "."+name+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create file in %s: %w", ErrIO, outDir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := d.DecodeStream(tmp, file, box)
	if err != nil {
		return nil, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: unable to write %s: %w", ErrIO, tmp.Name(), err)
	}

	if d.writeTags {
		if err := WriteTags(tmp.Name(), meta, c.Cover); err != nil {
			return nil, err
		}
	}

	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return nil, fmt.Errorf("%w: unable to move output into place: %w", ErrIO, err)
	}

	log.WithFields(logrus.Fields{"output": outPath, "payload": n}).Debug("decoded")

	return &Result{
		Input:    inputPath,
		Output:   outPath,
		Format:   meta.Format,
		Size:     n,
		Metadata: meta,
	}, nil
}

// Inspect reads the header and metadata of a container without touching the
// payload.
func (d *Decoder) Inspect(path string) (*Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open %s: %w", ErrIO, path, err)
	}
	defer file.Close()

	c, material, meta, err := d.header(file)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return &Info{
		Path:           path,
		KeyMaterialLen: len(material),
		Metadata:       meta,
		Cover:          c.Cover,
		PayloadOffset:  c.PayloadOffset,
		PayloadSize:    max(stat.Size()-c.PayloadOffset, 0),
	}, nil
}

// OutputName is the decoded file name for inputPath: its base name without
// extension, NFC-normalised, plus the recovered format.
func OutputName(inputPath, format string) (string, error) {
	if format == "" || strings.ContainsAny(format, `/\`) || format == "." || format == ".." {
		return "", fmt.Errorf("%w: unusable format %q", ErrMetadata, format)
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return norm.NFC.String(stem) + "." + format, nil
}
