package ncm

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	keyPrefix      = "neteasecloudmusic"
	metaTextPrefix = "163 key(Don't modify):"
	metaJSONPrefix = "music:"
)

// sample describes a container built by buildContainer. audio is the plain
// payload; it is encrypted with the keystream derived from material.
type sample struct {
	material []byte
	metaJSON string
	cover    []byte
	audio    []byte
}

func defaultSample() sample {
	return sample{
		material: seqBytes(1, 32),
		metaJSON: `{"format":"mp3"}`,
		audio:    make([]byte, 10),
	}
}

func seqBytes(from, to int) []byte {
	out := make([]byte, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, byte(i))
	}
	return out
}

func padPKCS7(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// encryptECB encrypts already padded plaintext.
func encryptECB(t *testing.T, key [16]byte, plaintext []byte) []byte {
	t.Helper()
	require.Zero(t, len(plaintext)%aes.BlockSize)
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}
	return out
}

func xorAll(mask byte, data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ mask
	}
	return out
}

func makeKeyBlob(t *testing.T, p Profile, material []byte) []byte {
	t.Helper()
	plain := padPKCS7(append([]byte(keyPrefix), material...))
	return xorAll(p.CoreMask, encryptECB(t, p.CoreKey, plain))
}

// makeMetaBlobRaw wraps an already padded (or deliberately broken) plaintext.
func makeMetaBlobRaw(t *testing.T, p Profile, padded []byte) []byte {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString(encryptECB(t, p.MetaKey, padded))
	return xorAll(p.MetaMask, []byte(metaTextPrefix+encoded))
}

func makeMetaBlob(t *testing.T, p Profile, doc string) []byte {
	t.Helper()
	return makeMetaBlobRaw(t, p, padPKCS7([]byte(metaJSONPrefix+doc)))
}

func appendBlock(buf *bytes.Buffer, data []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(data)))
	buf.Write(n[:])
	buf.Write(data)
}

// encryptAudio applies the payload keystream; the cipher is its own inverse.
func encryptAudio(t *testing.T, material, audio []byte) []byte {
	t.Helper()
	box, err := BuildKeyBox(material)
	require.NoError(t, err)
	out := make([]byte, len(audio))
	NewKeystream(box).XORKeyStreamAt(out, audio, 0)
	return out
}

func assemble(p Profile, keyBlob, metaBlob, cover, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(p.Magic[:])
	buf.Write([]byte{0xab, 0xcd}) // checksum
	appendBlock(&buf, keyBlob)
	appendBlock(&buf, metaBlob)
	buf.Write(make([]byte, p.CoverGap))
	appendBlock(&buf, cover)
	buf.Write(payload)
	return buf.Bytes()
}

func buildContainer(t *testing.T, s sample) []byte {
	t.Helper()
	p := DefaultProfile()
	return assemble(p,
		makeKeyBlob(t, p, s.material),
		makeMetaBlob(t, p, s.metaJSON),
		s.cover,
		encryptAudio(t, s.material, s.audio),
	)
}

func writeContainer(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// referenceKeyBox is a literal transcription of the key schedule.
func referenceKeyBox(material []byte) []int {
	box := make([]int, 256)
	for i := range box {
		box[i] = i
	}
	lastByte, offset := 0, 0
	for i := 0; i < 256; i++ {
		swap := box[i]
		c := (swap + lastByte + int(material[offset])) % 256
		offset = (offset + 1) % len(material)
		box[i] = box[c]
		box[c] = swap
		lastByte = c
	}
	return box
}

// referenceKeystream computes n keystream bytes one position at a time.
func referenceKeystream(material []byte, n int) []byte {
	box := referenceKeyBox(material)
	out := make([]byte, n)
	for p := 0; p < n; p++ {
		j := (p%256 + 1) % 256
		k := (box[j] + box[(box[j]+j)%256]) % 256
		out[p] = byte(box[k])
	}
	return out
}
