package ncm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// coverMIME guesses the image type of embedded cover art.
func coverMIME(cover []byte) string {
	if bytes.HasPrefix(cover, pngSignature) {
		return "image/png"
	}
	return "image/jpeg"
}

// WriteTags copies title, album, artists and cover art into the decoded
// file at path. Existing values are kept. Formats without a tag writer are
// left untouched.
func WriteTags(path string, meta *Metadata, cover []byte) error {
	switch strings.ToLower(meta.Format) {
	case "mp3":
		return writeID3(path, meta, cover)
	case "flac":
		return writeFLACComments(path, meta, cover)
	default:
		return nil
	}
}

func writeID3(path string, meta *Metadata, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("%w: reading id3 tag: %w", ErrIO, err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if tag.Title() == "" && meta.MusicName != "" {
		tag.SetTitle(meta.MusicName)
	}
	if tag.Album() == "" && meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	if tag.Artist() == "" && len(meta.Artists) > 0 {
		tag.SetArtist(strings.Join(meta.Artists, "/"))
	}
	if len(cover) > 0 && len(tag.GetFrames(tag.CommonID("Attached picture"))) == 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverMIME(cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("%w: writing id3 tag: %w", ErrIO, err)
	}
	return nil
}

func writeFLACComments(path string, meta *Metadata, cover []byte) error {
	f, err := parseFLAC(path)
	if err != nil {
		return err
	}

	var cmtBlock *flac.MetaDataBlock
	hasPicture := false
	for _, m := range f.Meta {
		switch m.Type {
		case flac.VorbisComment:
			if cmtBlock == nil {
				cmtBlock = m
			}
		case flac.Picture:
			hasPicture = true
		}
	}

	cmts := flacvorbis.New()
	if cmtBlock != nil {
		if err := checkVorbisBlock(cmtBlock.Data); err != nil {
			return err
		}
		cmts, err = flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
		if err != nil {
			return fmt.Errorf("%w: parsing vorbis comments: %w", ErrIO, err)
		}
	}

	if err := addComment(cmts, flacvorbis.FIELD_TITLE, meta.MusicName); err != nil {
		return err
	}
	if err := addComment(cmts, flacvorbis.FIELD_ALBUM, meta.Album); err != nil {
		return err
	}
	if err := addComment(cmts, flacvorbis.FIELD_ARTIST, meta.Artists...); err != nil {
		return err
	}

	res := cmts.Marshal()
	if cmtBlock != nil {
		*cmtBlock = res
	} else {
		f.Meta = append(f.Meta, &res)
	}

	if len(cover) > 0 && !hasPicture {
		// flacpicture needs the image dimensions; cover art it cannot decode
		// is dropped rather than failing the whole file.
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front cover", cover, coverMIME(cover))
		if err == nil {
			picBlock := pic.Marshal()
			f.Meta = append(f.Meta, &picBlock)
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("%w: writing flac stream: %w", ErrIO, err)
	}
	return nil
}

// parseFLAC reads the metadata blocks and frames of the stream at path.
// flac.ParseFile indexes the first frame bytes without checking that they
// exist, so the sync code is checked here before the frames are kept.
func parseFLAC(path string) (*flac.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading flac stream: %w", ErrIO, err)
	}

	r := bytes.NewReader(data)
	f, err := flac.ParseMetadata(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing flac metadata: %w", ErrIO, err)
	}

	frames := data[len(data)-r.Len():]
	if len(frames) < 2 || frames[0] != 0xff || frames[1]>>2 != 0x3e {
		return nil, fmt.Errorf("%w: flac stream has %d frame bytes: %w", ErrIO, len(frames), flac.ErrorNoSyncCode)
	}
	f.Frames = frames
	return f, nil
}

// checkVorbisBlock walks the length fields of a vorbis comment block so that
// lengths pointing past the block are rejected before they are allocated.
func checkVorbisBlock(data []byte) error {
	malformed := fmt.Errorf("%w: vorbis comment block: %w", ErrIO, flacvorbis.ErrorUnexpEof)

	next := func() (uint32, bool) {
		if len(data) < 4 {
			return 0, false
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		return n, true
	}

	vendor, ok := next()
	if !ok || uint64(vendor) > uint64(len(data)) {
		return malformed
	}
	data = data[vendor:]

	count, ok := next()
	if !ok || uint64(count)*4 > uint64(len(data)) {
		return malformed
	}
	for i := uint32(0); i < count; i++ {
		n, ok := next()
		if !ok || uint64(n) > uint64(len(data)) {
			return malformed
		}
		data = data[n:]
	}
	return nil
}

// addComment sets field to values unless the stream already carries it.
func addComment(cmts *flacvorbis.MetaDataBlockVorbisComment, field string, values ...string) error {
	existing, err := cmts.Get(field)
	if err != nil {
		return fmt.Errorf("%w: reading %s comment: %w", ErrIO, field, err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if err := cmts.Add(field, v); err != nil {
			return fmt.Errorf("%w: adding %s comment: %w", ErrIO, field, err)
		}
	}
	return nil
}
