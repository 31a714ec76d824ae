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
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	// readBufferSize is the size of each worker's copy buffer.
	readBufferSize = 64 * 1024

	// parallelThreshold is the content size below which fanning the
	// hashing out over multiple workers does not pay for itself.
	parallelThreshold = 256 << 20
)

// hashPieces hashes the content of the ordered file list as one logical
// byte stream, split into pieces of pieceLength bytes, and returns the
// concatenated 20-byte piece digests in stream order.
//
// The piece range is partitioned into contiguous piece-aligned spans,
// one per worker. Each worker reads its span sequentially and writes
// digests directly into their slots of the shared output buffer, so the
// result is independent of worker scheduling. A worker owns one hash
// state and one read buffer, which bounds memory by the worker count.
func hashPieces(files []fileEntry, total, pieceLength int64, cancel func() bool) ([]byte, error) {
	count := (total + pieceLength - 1) / pieceLength
	pieces := make([]byte, count*20)

	workers := int64(runtime.NumCPU())
	if total < parallelThreshold {
		workers = 1
	}
	if workers > count {
		workers = count
	}

	span := (count + workers - 1) / workers

	var g errgroup.Group
	for begin := int64(0); begin < count; begin += span {
		first, last := begin, begin+span
		if last > count {
			last = count
		}

		g.Go(func() error {
			return hashSpan(files, pieces, total, pieceLength, first, last, cancel)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return pieces, nil
}

// hashSpan hashes the pieces in the range [first, last) into their slots
// of pieces.
func hashSpan(files []fileEntry, pieces []byte, total, pieceLength, first, last int64, cancel func() bool) error {
	r := newStreamReader(files, first*pieceLength)
	defer r.Close()

	buf := make([]byte, readBufferSize)

	for i := first; i < last; i++ {
		if cancel != nil && cancel() {
			return ErrBuildCancelled
		}

		size := pieceLength
		if rest := total - i*pieceLength; rest < size {
			size = rest
		}

		h := sha1.New()
		n, err := io.CopyBuffer(h, io.LimitReader(r, size), buf)
		if err != nil {
			return err
		}
		if n != size {
			return fmt.Errorf("metainfo: content ended %d bytes into piece %d: %w", n, i, io.ErrUnexpectedEOF)
		}

		copy(pieces[i*20:], h.Sum(nil))
	}

	return nil
}

// streamReader reads the ordered file list as one logical byte stream,
// starting at the provided byte offset.
type streamReader struct {
	files []fileEntry
	idx   int // next file to open

	cur  *os.File
	left int64 // unread bytes of cur per the snapshot
	skip int64 // offset into the next file to open
}

func newStreamReader(files []fileEntry, offset int64) *streamReader {
	r := &streamReader{files: files}

	// skip over the files before the offset
	for r.idx < len(files) && offset >= files[r.idx].length {
		offset -= files[r.idx].length
		r.idx++
	}

	r.skip = offset
	return r
}

func (r *streamReader) Read(p []byte) (int, error) {
	for r.cur == nil || r.left == 0 {
		if r.cur != nil {
			if err := r.cur.Close(); err != nil {
				return 0, err
			}
			r.cur = nil
		}

		if r.idx >= len(r.files) {
			return 0, io.EOF
		}

		entry := r.files[r.idx]
		r.idx++

		if entry.length-r.skip == 0 {
			r.skip = 0
			continue
		}

		f, err := os.Open(entry.path)
		if err != nil {
			return 0, err
		}

		if r.skip > 0 {
			if _, err := f.Seek(r.skip, io.SeekStart); err != nil {
				f.Close()
				return 0, err
			}
		}

		r.cur, r.left = f, entry.length-r.skip
		r.skip = 0
	}

	if int64(len(p)) > r.left {
		p = p[:r.left]
	}

	n, err := r.cur.Read(p)
	r.left -= int64(n)

	if err == io.EOF {
		if r.left > 0 {
			// the file shrank between the snapshot and the read
			return n, fmt.Errorf("metainfo: %s: %w", r.cur.Name(), io.ErrUnexpectedEOF)
		}

		err = nil
	}

	return n, err
}

// Close closes the currently open file, if any.
func (r *streamReader) Close() error {
	if r.cur == nil {
		return nil
	}

	err := r.cur.Close()
	r.cur = nil
	return err
}
