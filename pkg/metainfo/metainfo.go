// Copyright © 2021 Rak Laptudirm <raklaptudirm@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metainfo reads, validates, constructs and writes BitTorrent v1
// metainfo (.torrent) files on top of the bencode codec. Unknown keys are
// preserved verbatim so the info hash of a parsed file always matches the
// hash of the original bytes.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"laptudirm.com/x/torrentfile/pkg/bencode"
)

// File represents a single file in a multi-file torrent. Its path is kept
// as components relative to the torrent's root directory, never joined.
type File struct {
	Length int64    `bencode:"length"` // length of the file in bytes
	Path   []string `bencode:"path"`   // path components of the file

	// Extra holds unrecognized keys of the file's dictionary, like the
	// legacy md5sum field. They are written back verbatim.
	Extra map[string]any `bencode:"-"`
}

// Torrent represents the contents of a .torrent metainfo file.
type Torrent struct {
	Announce     string     // tracker announce url
	AnnounceList [][]string // tiers of announce urls (BEP-12)

	Date    int64  // creation timestamp
	Comment string // free-form comment
	Author  string // author of the metainfo
	Charset string // encoding of the metainfo

	// info section
	Name     string // file name, or directory name for multi-file torrents
	PieceLen int64  // length of each piece in bytes
	Pieces   []byte // concatenated 20-byte piece hashes
	Length   int64  // length of the file in single-file torrents
	Files    []File // files in multi-file torrents, nil for single-file
	Private  *int64 // the private flag, nil when absent
	Source   string // the source tag some private trackers require

	// Extra and ExtraInfo hold unrecognized keys of the top-level and
	// info dictionaries. They round-trip verbatim and may never shadow
	// a recognized key.
	Extra     map[string]any
	ExtraInfo map[string]any
}

// recognized dictionary keys; everything else lands in Extra/ExtraInfo
var (
	rootKeys = map[string]bool{
		"announce": true, "announce-list": true, "comment": true,
		"created by": true, "creation date": true, "encoding": true,
		"info": true,
	}

	infoKeys = map[string]bool{
		"name": true, "piece length": true, "pieces": true,
		"length": true, "files": true, "private": true, "source": true,
	}

	fileKeys = map[string]bool{"length": true, "path": true}
)

// Load reads an io.Reader as a .torrent metainfo file.
func Load(r io.Reader) (*Torrent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return LoadBytes(data)
}

// LoadBytes parses a .torrent metainfo file from data.
func LoadBytes(data []byte) (*Torrent, error) {
	var v any
	if err := bencode.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	root, ok := v.(map[string]any)
	if !ok {
		return nil, &InvalidMetainfoError{"top-level value is not a dictionary"}
	}

	return fromDict(root)
}

// LoadFromFile parses the .torrent metainfo file at path.
func LoadFromFile(path string) (*Torrent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}

// fromDict projects a decoded top-level dictionary onto a Torrent,
// collecting unrecognized keys into the extra maps.
func fromDict(root map[string]any) (*Torrent, error) {
	t := &Torrent{}

	var err error
	if t.Announce, err = optString(root, "announce"); err != nil {
		return nil, err
	}
	if t.Comment, err = optString(root, "comment"); err != nil {
		return nil, err
	}
	if t.Author, err = optString(root, "created by"); err != nil {
		return nil, err
	}
	if t.Charset, err = optString(root, "encoding"); err != nil {
		return nil, err
	}
	if t.Date, _, err = optInt(root, "creation date"); err != nil {
		return nil, err
	}
	if t.AnnounceList, err = announceTiers(root); err != nil {
		return nil, err
	}

	infoValue, ok := root["info"]
	if !ok {
		return nil, &InvalidMetainfoError{`missing "info" dictionary`}
	}

	info, ok := infoValue.(map[string]any)
	if !ok {
		return nil, wrongType("info", "a dictionary")
	}

	if t.Name, err = reqString(info, "name"); err != nil {
		return nil, err
	}
	if t.PieceLen, err = reqInt(info, "piece length"); err != nil {
		return nil, err
	}

	pieces, err := reqString(info, "pieces")
	if err != nil {
		return nil, err
	}
	t.Pieces = []byte(pieces)

	length, hasLength, err := optInt(info, "length")
	if err != nil {
		return nil, err
	}
	t.Length = length

	files, hasFiles, err := fileList(info)
	if err != nil {
		return nil, err
	}
	t.Files = files

	switch {
	case hasLength && hasFiles:
		return nil, &InvalidMetainfoError{`info has both "length" and "files"`}
	case !hasLength && !hasFiles:
		return nil, &InvalidMetainfoError{`info has neither "length" nor "files"`}
	}

	if private, ok, err := optInt(info, "private"); err != nil {
		return nil, err
	} else if ok {
		t.Private = &private
	}

	if t.Source, err = optString(info, "source"); err != nil {
		return nil, err
	}

	// collect unrecognized keys last
	for key, value := range root {
		if !rootKeys[key] {
			if t.Extra == nil {
				t.Extra = make(map[string]any)
			}
			t.Extra[key] = value
		}
	}
	for key, value := range info {
		if !infoKeys[key] {
			if t.ExtraInfo == nil {
				t.ExtraInfo = make(map[string]any)
			}
			t.ExtraInfo[key] = value
		}
	}

	if err := t.validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// announceTiers extracts the announce-list as tiers of urls.
func announceTiers(root map[string]any) ([][]string, error) {
	value, ok := root["announce-list"]
	if !ok {
		return nil, nil
	}

	list, ok := value.([]any)
	if !ok {
		return nil, wrongType("announce-list", "a list")
	}

	tiers := make([][]string, 0, len(list))
	for _, tierValue := range list {
		tierList, ok := tierValue.([]any)
		if !ok {
			return nil, wrongType("announce-list", "a list of lists")
		}

		tier := make([]string, 0, len(tierList))
		for _, urlValue := range tierList {
			url, ok := urlValue.(string)
			if !ok {
				return nil, wrongType("announce-list", "a list of lists of strings")
			}

			tier = append(tier, url)
		}

		tiers = append(tiers, tier)
	}

	return tiers, nil
}

// fileList extracts the files of a multi-file info dictionary.
func fileList(info map[string]any) ([]File, bool, error) {
	value, ok := info["files"]
	if !ok {
		return nil, false, nil
	}

	list, ok := value.([]any)
	if !ok {
		return nil, true, wrongType("files", "a list")
	}

	files := make([]File, 0, len(list))
	for _, fileValue := range list {
		dict, ok := fileValue.(map[string]any)
		if !ok {
			return nil, true, wrongType("files", "a list of dictionaries")
		}

		length, err := reqInt(dict, "length")
		if err != nil {
			return nil, true, err
		}

		pathValue, ok := dict["path"]
		if !ok {
			return nil, true, &InvalidMetainfoError{`file entry is missing "path"`}
		}

		pathList, ok := pathValue.([]any)
		if !ok {
			return nil, true, wrongType("path", "a list")
		}

		path := make([]string, 0, len(pathList))
		for _, component := range pathList {
			c, ok := component.(string)
			if !ok {
				return nil, true, wrongType("path", "a list of strings")
			}

			path = append(path, c)
		}

		file := File{Length: length, Path: path}
		for key, v := range dict {
			if !fileKeys[key] {
				if file.Extra == nil {
					file.Extra = make(map[string]any)
				}
				file.Extra[key] = v
			}
		}

		files = append(files, file)
	}

	return files, true, nil
}

// validate checks the invariants of a parsed Torrent.
func (t *Torrent) validate() error {
	if t.PieceLen < 1 {
		return &InvalidMetainfoError{"piece length is not positive"}
	}

	if len(t.Pieces)%20 != 0 {
		return &InvalidMetainfoError{fmt.Sprintf("malformed piece hash string of length %v", len(t.Pieces))}
	}

	for _, file := range t.Files {
		if file.Length < 0 {
			return &InvalidMetainfoError{"file length is negative"}
		}

		if err := checkPath(file.Path); err != nil {
			return err
		}
	}

	// number of pieces must cover the content exactly
	total := t.TotalLength()
	want := (total + t.PieceLen - 1) / t.PieceLen
	if int64(t.NumPieces()) != want {
		return &InvalidMetainfoError{fmt.Sprintf("%d pieces cannot cover %d bytes with piece length %d", t.NumPieces(), total, t.PieceLen)}
	}

	return nil
}

// checkPath checks that every component of a file path is non-empty and
// free of separators, so joined paths can never escape the root.
func checkPath(path []string) error {
	if len(path) == 0 {
		return &InvalidMetainfoError{"file path is empty"}
	}

	for _, component := range path {
		switch {
		case component == "":
			return &InvalidMetainfoError{"file path has an empty component"}
		case component == "." || component == "..":
			return &InvalidMetainfoError{fmt.Sprintf("file path has component %q", component)}
		case strings.ContainsAny(component, "/\x00"):
			return &InvalidMetainfoError{fmt.Sprintf("file path component %q contains a separator", component)}
		}
	}

	return nil
}

// infoDict assembles the info dictionary of the torrent. Extra fields are
// added last and are disjoint from the recognized keys by construction.
func (t *Torrent) infoDict() map[string]any {
	info := map[string]any{
		"name":         t.Name,
		"piece length": t.PieceLen,
		"pieces":       string(t.Pieces),
	}

	if t.Files == nil {
		info["length"] = t.Length
	} else {
		files := make([]any, len(t.Files))
		for i, file := range t.Files {
			dict := map[string]any{
				"length": file.Length,
				"path":   file.Path,
			}
			for key, value := range file.Extra {
				dict[key] = value
			}
			files[i] = dict
		}
		info["files"] = files
	}

	if t.Private != nil {
		info["private"] = *t.Private
	}
	if t.Source != "" {
		info["source"] = t.Source
	}

	for key, value := range t.ExtraInfo {
		info[key] = value
	}

	return info
}

// dict assembles the top-level dictionary of the torrent.
func (t *Torrent) dict() map[string]any {
	root := map[string]any{"info": t.infoDict()}

	if t.Announce != "" {
		root["announce"] = t.Announce
	}
	if len(t.AnnounceList) > 0 {
		root["announce-list"] = t.AnnounceList
	}
	if t.Comment != "" {
		root["comment"] = t.Comment
	}
	if t.Author != "" {
		root["created by"] = t.Author
	}
	if t.Date != 0 {
		root["creation date"] = t.Date
	}
	if t.Charset != "" {
		root["encoding"] = t.Charset
	}

	for key, value := range t.Extra {
		root[key] = value
	}

	return root
}

// Write encodes the torrent as canonical bencode into w.
func (t *Torrent) Write(w io.Writer) error {
	return bencode.Encode(w, t.dict())
}

// WriteFile encodes the torrent as canonical bencode into the file at
// path, creating or truncating it.
func (t *Torrent) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// InfoHash calculates the infohash of the torrent, the SHA-1 digest of
// the canonical encoding of its info dictionary.
func (t *Torrent) InfoHash() ([20]byte, error) {
	data, err := bencode.Marshal(t.infoDict())
	if err != nil {
		return [20]byte{}, err
	}

	return sha1.Sum(data), nil
}

// InfoHashHex returns the infohash of the torrent as 40 lowercase hex
// characters.
func (t *Torrent) InfoHashHex() (string, error) {
	hash, err := t.InfoHash()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(hash[:]), nil
}

// Magnet formats a magnet link for the torrent, with the display name and
// every tracker attached.
func (t *Torrent) Magnet() (string, error) {
	hash, err := t.InfoHashHex()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)

	if t.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(escape(t.Name))
	}

	if t.Announce != "" {
		b.WriteString("&tr=")
		b.WriteString(escape(t.Announce))
	}

	for _, tier := range t.AnnounceList {
		for _, tracker := range tier {
			b.WriteString("&tr=")
			b.WriteString(escape(tracker))
		}
	}

	return b.String(), nil
}

// escape percent-encodes s for use in a magnet link query parameter.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// IsPrivate reports whether the torrent's info dictionary has the private
// flag set to 1 (BEP-27).
func (t *Torrent) IsPrivate() bool {
	return t.Private != nil && *t.Private == 1
}

// IsDir reports whether the torrent is in multi-file mode and saves as a
// directory.
func (t *Torrent) IsDir() bool {
	return t.Files != nil
}

// TotalLength returns the total length of the torrent's content.
func (t *Torrent) TotalLength() int64 {
	if !t.IsDir() {
		return t.Length
	}

	var length int64
	for _, file := range t.Files {
		length += file.Length
	}

	return length
}

// NumPieces returns the number of pieces the content is split into.
func (t *Torrent) NumPieces() int {
	return len(t.Pieces) / 20
}

// Hashes returns an array containing the hash of each piece of the
// torrent.
func (t *Torrent) Hashes() ([][20]byte, error) {
	length := len(t.Pieces)
	if length%20 != 0 {
		return nil, fmt.Errorf("metainfo: malformed piece hash string of length %v", length)
	}

	n := length / 20
	hashes := make([][20]byte, n)

	for i := 0; i < n; i++ {
		copy(hashes[i][:], t.Pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

// optString extracts an optional string from the dictionary.
func optString(m map[string]any, key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", nil
	}

	s, ok := value.(string)
	if !ok {
		return "", wrongType(key, "a string")
	}

	return s, nil
}

// reqString extracts a required string from the dictionary.
func reqString(m map[string]any, key string) (string, error) {
	if _, ok := m[key]; !ok {
		return "", &InvalidMetainfoError{fmt.Sprintf("missing %q", key)}
	}

	return optString(m, key)
}

// optInt extracts an optional integer from the dictionary, reporting its
// presence.
func optInt(m map[string]any, key string) (int64, bool, error) {
	value, ok := m[key]
	if !ok {
		return 0, false, nil
	}

	n, ok := value.(int64)
	if !ok {
		return 0, true, wrongType(key, "an integer")
	}

	return n, true, nil
}

// reqInt extracts a required integer from the dictionary.
func reqInt(m map[string]any, key string) (int64, error) {
	n, ok, err := optInt(m, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &InvalidMetainfoError{fmt.Sprintf("missing %q", key)}
	}

	return n, nil
}

// wrongType builds the InvalidMetainfoError for a wrongly typed key.
func wrongType(key, want string) *InvalidMetainfoError {
	return &InvalidMetainfoError{fmt.Sprintf("%q is not %s", key, want)}
}
