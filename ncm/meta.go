package ncm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// Metadata is the record embedded in the container. Only Format is
// guaranteed; the other fields are filled when present with the expected type.
type Metadata struct {
	Format    string
	MusicName string
	Album     string
	Artists   []string
	AlbumPic  string
	Bitrate   int64
	Duration  int64 // milliseconds

	// Fields holds the whole decoded record.
	Fields map[string]any
}

// ReadMetadata decrypts and parses a metadata blob.
func (d *Decoder) ReadMetadata(blob []byte) (*Metadata, error) {
	text, err := validText(descramble(d.profile.MetaMask, blob), "metadata blob")
	if err != nil {
		return nil, err
	}

	encoded, err := dropChars(text, d.profile.MetaTextPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata blob: %w", ErrEncoding, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata base64: %w", ErrEncoding, err)
	}

	plaintext, err := decryptECB(d.metaBlock, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting metadata: %w", err)
	}

	record, err := validText(plaintext, "decrypted metadata")
	if err != nil {
		return nil, err
	}

	doc, err := dropChars(record, d.profile.MetaJSONPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypted metadata: %w", ErrMetadata, err)
	}

	return parseMetadata(doc)
}

func parseMetadata(doc string) (*Metadata, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: record is null", ErrMetadata)
	}

	raw, ok := fields["format"]
	if !ok {
		return nil, fmt.Errorf("%w: missing format field", ErrMetadata)
	}
	format, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: format field is %T, not a string", ErrMetadata, raw)
	}

	meta := &Metadata{
		Format:    format,
		MusicName: stringField(fields, "musicName"),
		Album:     stringField(fields, "album"),
		AlbumPic:  stringField(fields, "albumPic"),
		Bitrate:   intField(fields, "bitrate"),
		Duration:  intField(fields, "duration"),
		Fields:    fields,
	}

	// artist is a list of [name, id] pairs
	if artists, ok := fields["artist"].([]any); ok {
		for _, a := range artists {
			pair, ok := a.([]any)
			if !ok || len(pair) == 0 {
				continue
			}
			if name, ok := pair[0].(string); ok && name != "" {
				meta.Artists = append(meta.Artists, name)
			}
		}
	}

	return meta, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func intField(fields map[string]any, key string) int64 {
	f, _ := fields[key].(float64)
	return int64(f)
}

// validText checks that data is UTF-8 before it is sliced by characters.
func validText(data []byte, what string) (string, error) {
	s, _, err := transform.String(encoding.UTF8Validator, string(data))
	if err != nil {
		return "", fmt.Errorf("%w: %s is not text: %w", ErrEncoding, what, err)
	}
	return s, nil
}

// dropChars removes the first n characters of s.
func dropChars(s string, n int) (string, error) {
	i := 0
	for c := 0; c < n; c++ {
		if i >= len(s) {
			return "", fmt.Errorf("shorter than its %d character prefix", n)
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[i:], nil
}
