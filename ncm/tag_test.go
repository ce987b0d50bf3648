package ncm

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTags_MP3(t *testing.T) {
	s := defaultSample()
	s.metaJSON = `{"format":"mp3","musicName":"Song","album":"Record","artist":[["One",1],["Two",2]]}`
	s.cover = append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0x11}, 60)...)
	s.audio = bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x64}, 256)
	in := writeContainer(t, t.TempDir(), "tagged.ncm", buildContainer(t, s))

	res, err := NewDecoder(Options{WriteTags: true}).DecodeFile(context.Background(), in, t.TempDir())
	require.NoError(t, err)

	tag, err := id3v2.Open(res.Output, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()

	assert.Equal(t, "Song", tag.Title())
	assert.Equal(t, "Record", tag.Album())
	assert.Equal(t, "One/Two", tag.Artist())

	pics := tag.GetFrames(tag.CommonID("Attached picture"))
	require.Len(t, pics, 1)
	pic, ok := pics[0].(id3v2.PictureFrame)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", pic.MimeType)
	assert.Equal(t, s.cover, pic.Picture)

	// the audio frames follow the tag untouched
	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, s.audio))
}

// flacHeader is a stream marker plus an all-zero STREAMINFO block.
func flacHeader() []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write([]byte{0x80, 0x00, 0x00, 0x22}) // last block, STREAMINFO, 34 bytes
	buf.Write(make([]byte, 34))
	return buf.Bytes()
}

// minimalFLAC is flacHeader followed by the start of a frame.
func minimalFLAC() []byte {
	return append(flacHeader(), 0xff, 0xf8, 0x69, 0x08, 0x00, 0x00)
}

func TestWriteTags_FLAC(t *testing.T) {
	s := defaultSample()
	s.metaJSON = `{"format":"flac","musicName":"Song","album":"Record","artist":[["One",1],["Two",2]]}`
	s.audio = minimalFLAC()
	in := writeContainer(t, t.TempDir(), "tagged.ncm", buildContainer(t, s))

	res, err := NewDecoder(Options{WriteTags: true}).DecodeFile(context.Background(), in, t.TempDir())
	require.NoError(t, err)

	f, err := flac.ParseFile(res.Output)
	require.NoError(t, err)

	var cmts *flacvorbis.MetaDataBlockVorbisComment
	for _, m := range f.Meta {
		if m.Type == flac.VorbisComment {
			cmts, err = flacvorbis.ParseFromMetaDataBlock(*m)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, cmts)

	title, err := cmts.Get(flacvorbis.FIELD_TITLE)
	require.NoError(t, err)
	assert.Equal(t, []string{"Song"}, title)

	artists, err := cmts.Get(flacvorbis.FIELD_ARTIST)
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two"}, artists)
}

func TestWriteTags_FLACWithoutFrames(t *testing.T) {
	for name, audio := range map[string][]byte{
		"metadata only":  flacHeader(),
		"one frame byte": append(flacHeader(), 0xff),
		"no sync code":   append(flacHeader(), 0x12, 0x34, 0x56),
	} {
		t.Run(name, func(t *testing.T) {
			s := defaultSample()
			s.metaJSON = `{"format":"flac","musicName":"Song"}`
			s.audio = audio
			in := writeContainer(t, t.TempDir(), "short.ncm", buildContainer(t, s))
			out := t.TempDir()

			var err error
			require.NotPanics(t, func() {
				_, err = NewDecoder(Options{WriteTags: true}).DecodeFile(context.Background(), in, out)
			})
			assert.ErrorIs(t, err, ErrIO)

			entries, rerr := os.ReadDir(out)
			require.NoError(t, rerr)
			assert.Empty(t, entries)
		})
	}
}

func TestCheckVorbisBlock(t *testing.T) {
	valid := flacvorbis.New()
	require.NoError(t, valid.Add(flacvorbis.FIELD_TITLE, "Song"))
	assert.NoError(t, checkVorbisBlock(valid.Marshal().Data))

	for name, data := range map[string][]byte{
		"empty":            nil,
		"vendor too long":  {0xff, 0xff, 0xff, 0xff, 'x'},
		"count too large":  {0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff},
		"comment too long": {0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 'a'},
		"missing comment":  {0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		"truncated count":  {0x00, 0x00, 0x00, 0x00, 0x01},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, checkVorbisBlock(data), ErrIO)
		})
	}
}

func TestWriteTags_OtherFormatsUntouched(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "a.ogg", []byte("OggS raw bytes"))
	require.NoError(t, WriteTags(path, &Metadata{Format: "ogg", MusicName: "x"}, []byte{1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS raw bytes"), data)
}

func TestCoverMIME(t *testing.T) {
	assert.Equal(t, "image/png", coverMIME(append(append([]byte{}, pngSignature...), 0, 0)))
	assert.Equal(t, "image/jpeg", coverMIME([]byte{0xff, 0xd8}))
	assert.Equal(t, "image/jpeg", coverMIME(nil))
}
