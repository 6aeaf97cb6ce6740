// Package output persists crawl results: the review listing, resumable
// snapshots and file-name helpers.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ListingExt is the file extension of listing files.
const ListingExt = ".jsonl"

// ListingEntry is one line of a listing file.
type ListingEntry struct {
	Hotel string `json:"hotel"`
	URL   string `json:"url"`
}

// WriteListing writes one JSON object per review URL, in order.
func WriteListing(w io.Writer, hotelKey string, urls []string) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, u := range urls {
		if err := enc.Encode(ListingEntry{Hotel: hotelKey, URL: u}); err != nil {
			return eris.Wrap(err, "output: encode listing entry")
		}
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrap(err, "output: flush listing")
	}
	return nil
}

// ReadListing parses a listing written by WriteListing and returns the URLs
// in file order. Blank lines are ignored.
func ReadListing(r io.Reader) ([]string, error) {
	urls := []string{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var e ListingEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, eris.Wrapf(err, "output: listing line %d", line)
		}
		urls = append(urls, e.URL)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "output: read listing")
	}
	return urls, nil
}

// ListingPath returns <dir>/<slug(name)>-<hotelKey>.jsonl. The key keeps
// hotels whose names slug alike from sharing a file.
func ListingPath(dir, name, hotelKey string) string {
	return filepath.Join(dir, Slug(name)+"-"+hotelKey+ListingExt)
}

// WriteListingFile atomically replaces the listing file for the hotel under
// dir and returns its path.
func WriteListingFile(dir, name, hotelKey string, urls []string) (string, error) {
	path := ListingPath(dir, name, hotelKey)
	err := writeAtomic(path, func(w io.Writer) error {
		return WriteListing(w, hotelKey, urls)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// ReadListingFile reads a listing file from disk.
func ReadListingFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open listing %s", path)
	}
	defer func() { _ = f.Close() }()
	return ReadListing(f)
}

// writeAtomic writes to a temp file in the target directory and renames it
// over path, so readers never observe a partial file.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "output: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "output: create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "output: sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "output: close %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrapf(err, "output: chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "output: rename to %s", path)
	}
	return nil
}
