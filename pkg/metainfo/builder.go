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

package metainfo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BuildOptions configures Build. The zero value builds a torrent with
// only the required info fields populated.
type BuildOptions struct {
	Announce     string     // tracker announce url
	AnnounceList [][]string // tiers of announce urls

	// Name overrides the torrent name. It defaults to the final
	// component of the built path.
	Name string

	Private bool   // set the private flag (BEP-27)
	Source  string // the source tag some private trackers require

	Date    int64  // creation timestamp
	Comment string // free-form comment
	Author  string // author of the metainfo
	Charset string // encoding of the metainfo

	// Extra and ExtraInfo are added verbatim to the top-level and info
	// dictionaries. Keys clashing with recognized keys are rejected
	// with a KeyCollisionError.
	Extra     map[string]any
	ExtraInfo map[string]any

	// Cancel is polled between pieces while hashing. When it returns
	// true the build stops with ErrBuildCancelled.
	Cancel func() bool
}

// fileEntry is a source file of a build: where to read it from, where it
// sits in the torrent, and its snapshotted length.
type fileEntry struct {
	path       string   // filesystem path for reading
	components []string // path components relative to the root
	length     int64    // length per the filesystem snapshot
}

// Build constructs a Torrent from the file or directory at root, hashing
// its content into pieces of pieceLength bytes. The result is a pure
// function of the filesystem snapshot and the options, so repeated builds
// of unchanged content encode to identical bytes.
func Build(root string, pieceLength int64, opts *BuildOptions) (*Torrent, error) {
	if opts == nil {
		opts = &BuildOptions{}
	}

	if pieceLength < 1 {
		return nil, ErrInvalidPieceLength
	}

	for key := range opts.Extra {
		if rootKeys[key] {
			return nil, &KeyCollisionError{key}
		}
	}
	for key := range opts.ExtraInfo {
		if infoKeys[key] {
			return nil, &KeyCollisionError{key}
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	var entries []fileEntry
	var files []File // stays nil in single-file mode

	switch {
	case info.Mode().IsRegular():
		entries = []fileEntry{{path: root, length: info.Size()}}

	case info.IsDir():
		if entries, err = collectFiles(root); err != nil {
			return nil, err
		}

		files = make([]File, len(entries))
		for i, entry := range entries {
			files[i] = File{Length: entry.length, Path: entry.components}
		}

	default:
		return nil, fmt.Errorf("metainfo: %s is neither a regular file nor a directory", root)
	}

	var total int64
	for _, entry := range entries {
		total += entry.length
	}
	if total == 0 {
		return nil, ErrEmptyContent
	}

	pieces, err := hashPieces(entries, total, pieceLength, opts.Cancel)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(root)
	}

	t := &Torrent{
		Announce:     opts.Announce,
		AnnounceList: opts.AnnounceList,
		Date:         opts.Date,
		Comment:      opts.Comment,
		Author:       opts.Author,
		Charset:      opts.Charset,

		Name:     name,
		PieceLen: pieceLength,
		Pieces:   pieces,
		Files:    files,
		Source:   opts.Source,
	}

	if files == nil {
		t.Length = total
	}

	if opts.Private {
		private := int64(1)
		t.Private = &private
	}

	// extras go in last so they can never shadow recognized keys
	if len(opts.Extra) > 0 {
		t.Extra = make(map[string]any, len(opts.Extra))
		for key, value := range opts.Extra {
			t.Extra[key] = value
		}
	}
	if len(opts.ExtraInfo) > 0 {
		t.ExtraInfo = make(map[string]any, len(opts.ExtraInfo))
		for key, value := range opts.ExtraInfo {
			t.ExtraInfo[key] = value
		}
	}

	return t, nil
}

// collectFiles walks the directory tree below root and returns the files
// to be shared, sorted into their canonical order. Symbolic links,
// special files and hidden entries are skipped.
func collectFiles(root string) ([]fileEntry, error) {
	var entries []fileEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		// hidden files and directories are not shared
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		// skip symlinks and special files
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entries = append(entries, fileEntry{
			path:       path,
			components: strings.Split(rel, string(filepath.Separator)),
			length:     info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// sort component-wise on raw bytes for a reproducible file order
	sort.Slice(entries, func(i, j int) bool {
		return lessPath(entries[i].components, entries[j].components)
	})

	return entries, nil
}

// lessPath compares two file paths component-wise, lexicographically on
// raw bytes.
func lessPath(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return len(a) < len(b)
}
