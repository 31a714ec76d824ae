package metainfo_test

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laptudirm.com/x/torrentfile/pkg/bencode/scanner"
	"laptudirm.com/x/torrentfile/pkg/metainfo"
)

// a canonical single-file torrent with unknown keys at every level
const testInfo = "d6:lengthi7e4:name8:test.bin12:piece lengthi16384e6:pieces20:aaaaabbbbbcccccddddd7:privatei1e12:x-cross-seed3:yese"

const testTorrent = "d8:announce35:http://tracker.example.com/announce13:creation datei1700000000e4:info" + testInfo + "9:publisher3:fooe"

func TestLoadBytes(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example.com/announce", tor.Announce)
	assert.Equal(t, int64(1700000000), tor.Date)
	assert.Equal(t, "test.bin", tor.Name)
	assert.Equal(t, int64(16384), tor.PieceLen)
	assert.Equal(t, []byte("aaaaabbbbbcccccddddd"), tor.Pieces)
	assert.Equal(t, int64(7), tor.Length)
	assert.Nil(t, tor.Files)
	assert.False(t, tor.IsDir())
	assert.True(t, tor.IsPrivate())

	assert.Equal(t, int64(7), tor.TotalLength())
	assert.Equal(t, 1, tor.NumPieces())

	// unknown keys are preserved verbatim
	assert.Equal(t, map[string]any{"publisher": "foo"}, tor.Extra)
	assert.Equal(t, map[string]any{"x-cross-seed": "yes"}, tor.ExtraInfo)
}

// a parsed torrent must encode back to the exact input bytes
func TestWriteRoundTrip(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tor.Write(&buf))
	assert.Equal(t, testTorrent, buf.String())
}

// the info hash must equal the hash of the original info dict bytes,
// unknown keys included
func TestInfoHashStability(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)

	hash, err := tor.InfoHash()
	require.NoError(t, err)
	assert.Equal(t, sha1.Sum([]byte(testInfo)), hash)

	hex, err := tor.InfoHashHex()
	require.NoError(t, err)
	assert.Len(t, hex, 40)
	assert.Equal(t, strings.ToLower(hex), hex)
}

// toggling the private flag must change the info hash
func TestPrivateChangesInfoHash(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)
	require.True(t, tor.IsPrivate())

	before, err := tor.InfoHash()
	require.NoError(t, err)

	private := int64(0)
	tor.Private = &private
	assert.False(t, tor.IsPrivate())

	after, err := tor.InfoHash()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	// a private flag other than 1 is present but not private
	two := int64(2)
	tor.Private = &two
	assert.False(t, tor.IsPrivate())
}

func TestMultiFile(t *testing.T) {
	const torrent = "d4:infod5:filesl" +
		"d6:lengthi5e6:md5sum32:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa4:pathl5:a.txtee" +
		"d6:lengthi2e4:pathl3:sub5:b.txtee" +
		"e4:name1:d12:piece lengthi16384e6:pieces20:aaaaabbbbbcccccdddddee"

	tor, err := metainfo.LoadBytes([]byte(torrent))
	require.NoError(t, err)

	require.Len(t, tor.Files, 2)
	assert.True(t, tor.IsDir())
	assert.Equal(t, int64(7), tor.TotalLength())
	assert.Equal(t, []string{"a.txt"}, tor.Files[0].Path)
	assert.Equal(t, []string{"sub", "b.txt"}, tor.Files[1].Path)

	// unknown file entry keys are preserved too
	assert.Equal(t, map[string]any{"md5sum": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, tor.Files[0].Extra)

	var buf bytes.Buffer
	require.NoError(t, tor.Write(&buf))
	assert.Equal(t, torrent, buf.String())
}

func TestMagnet(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)

	tor.Name = "test file"
	tor.AnnounceList = [][]string{{"udp://tracker.example.com:80/announce"}}

	hex, err := tor.InfoHashHex()
	require.NoError(t, err)

	magnet, err := tor.Magnet()
	require.NoError(t, err)
	assert.Equal(t, "magnet:?xt=urn:btih:"+hex+
		"&dn=test%20file"+
		"&tr=http%3A%2F%2Ftracker.example.com%2Fannounce"+
		"&tr=udp%3A%2F%2Ftracker.example.com%3A80%2Fannounce", magnet)
}

func TestHashes(t *testing.T) {
	tor, err := metainfo.LoadBytes([]byte(testTorrent))
	require.NoError(t, err)

	hashes, err := tor.Hashes()
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	assert.Equal(t, []byte("aaaaabbbbbcccccddddd"), hashes[0][:])
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"not a dictionary", "i1e", "top-level value is not a dictionary"},
		{"missing info", "d8:announce1:ue", `missing "info" dictionary`},
		{"info not a dictionary", "d4:infoi1ee", `"info" is not a dictionary`},
		{"missing name", "d4:infod6:lengthi1e12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee", `missing "name"`},
		{"missing pieces", "d4:infod6:lengthi1e4:name1:a12:piece lengthi1eee", `missing "pieces"`},
		{"wrongly typed name", "d4:infod6:lengthi1e4:namei1e12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee", `"name" is not a string`},
		{"wrongly typed length", "d4:infod6:length1:a4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee", `"length" is not an integer`},
		{
			"both length and files",
			"d4:infod5:filesld6:lengthi1e4:pathl1:aeee6:lengthi1e4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			`info has both "length" and "files"`,
		},
		{
			"neither length nor files",
			"d4:infod4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			`info has neither "length" nor "files"`,
		},
		{
			"piece length zero",
			"d4:infod6:lengthi1e4:name1:a12:piece lengthi0e6:pieces20:aaaaabbbbbcccccdddddee",
			"piece length is not positive",
		},
		{
			"pieces not a multiple of 20",
			"d4:infod6:lengthi1e4:name1:a12:piece lengthi1e6:pieces3:abcee",
			"malformed piece hash string of length 3",
		},
		{
			"piece count mismatch",
			"d4:infod6:lengthi2e4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			"1 pieces cannot cover 2 bytes with piece length 1",
		},
		{
			"empty path component",
			"d4:infod5:filesld6:lengthi1e4:pathl0:eee4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			"file path has an empty component",
		},
		{
			"dot dot path component",
			"d4:infod5:filesld6:lengthi1e4:pathl2:..eee4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			`file path has component ".."`,
		},
		{
			"separator in path component",
			"d4:infod5:filesld6:lengthi1e4:pathl3:a/beee4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			`file path component "a/b" contains a separator`,
		},
		{
			"empty path",
			"d4:infod5:filesld6:lengthi1e4:pathleee4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			"file path is empty",
		},
		{
			"announce-list not a list of lists",
			"d13:announce-listl1:ue4:infod6:lengthi1e4:name1:a12:piece lengthi1e6:pieces20:aaaaabbbbbcccccdddddee",
			`"announce-list" is not a list of lists`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := metainfo.LoadBytes([]byte(test.input))

			var invalidErr *metainfo.InvalidMetainfoError
			require.ErrorAs(t, err, &invalidErr)
			assert.Equal(t, test.reason, invalidErr.Reason)
		})
	}
}

// syntax errors from the codec surface unchanged
func TestLoadSyntaxError(t *testing.T) {
	_, err := metainfo.LoadBytes([]byte("d4:infod4:name1:a12:piece lengthi1e6:pieces0:6:lengthi0eee"))
	assert.True(t, errors.Is(err, scanner.ErrKeyOrder), "error %v is not ErrKeyOrder", err)

	_, err = metainfo.LoadBytes([]byte("d4:info"))
	assert.True(t, errors.Is(err, scanner.ErrTruncated), "error %v is not ErrTruncated", err)
}

// a Torrent must survive a write/read cycle unchanged
func TestReadWriteIdempotent(t *testing.T) {
	private := int64(1)
	tor := &metainfo.Torrent{
		Announce:     "http://tracker.example.com/announce",
		AnnounceList: [][]string{{"http://tracker.example.com/announce"}, {"udp://backup.example.com/announce"}},
		Comment:      "a comment",
		Author:       "torrentfile",
		Charset:      "UTF-8",
		Date:         1700000000,
		Name:         "d",
		PieceLen:     16384,
		Pieces:       bytes.Repeat([]byte("a"), 20),
		Files: []metainfo.File{
			{Length: 5, Path: []string{"a.txt"}},
			{Length: 2, Path: []string{"sub", "b.txt"}},
		},
		Private:   &private,
		Source:    "SRC",
		Extra:     map[string]any{"publisher": "foo"},
		ExtraInfo: map[string]any{"x-cross-seed": "yes"},
	}

	var buf bytes.Buffer
	require.NoError(t, tor.Write(&buf))

	parsed, err := metainfo.LoadBytes(buf.Bytes())
	require.NoError(t, err)

	if diff := cmp.Diff(tor, parsed); diff != "" {
		t.Errorf("torrent changed across write/read (-want +got):\n%s", diff)
	}
}
