package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/review-crawler/internal/model"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// SnapshotExt is appended to snapshot names that lack an extension.
const SnapshotExt = ".json"

// Snapshot is the persisted state of a finished crawl. Loading it
// reproduces the listing without touching the network.
type Snapshot struct {
	Version    int                 `json:"version"`
	Hotel      model.Hotel         `json:"hotel"`
	Seeds      []string            `json:"seeds"`
	Complete   bool                `json:"complete"`
	CreatedAt  time.Time           `json:"created_at"`
	ReviewURLs []string            `json:"review_urls"`
	Failures   []model.PageFailure `json:"failures,omitempty"`
}

// NewSnapshot captures result for hotel.
func NewSnapshot(hotel model.Hotel, seeds []string, result *model.CrawlResult, now time.Time) *Snapshot {
	s := &Snapshot{
		Version:    SnapshotVersion,
		Hotel:      hotel,
		Seeds:      seeds,
		CreatedAt:  now.UTC(),
		ReviewURLs: []string{},
	}
	if result != nil {
		s.Complete = result.Complete
		s.ReviewURLs = append(s.ReviewURLs, result.ReviewURLs...)
		s.Failures = result.Failures
	}
	return s
}

// SnapshotStore saves and loads snapshots by name under a directory.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore returns a store rooted at dir.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// Path resolves name to a file under the store directory. Names must be
// plain file names.
func (s *SnapshotStore) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", &model.ConfigError{Field: "snapshot.name", Reason: fmt.Sprintf("must be a plain file name, got %q", name)}
	}
	if filepath.Ext(name) == "" {
		name += SnapshotExt
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes snap under name, replacing any previous snapshot atomically.
func (s *SnapshotStore) Save(name string, snap *Snapshot) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	err = writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(snap); err != nil {
			return eris.Wrap(err, "output: encode snapshot")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the snapshot saved under name.
func (s *SnapshotStore) Load(name string) (*Snapshot, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "output: read snapshot %s", path)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "output: decode snapshot %s", path)
	}
	if snap.Version != SnapshotVersion {
		return nil, eris.Errorf("output: snapshot %s has version %d, want %d", path, snap.Version, SnapshotVersion)
	}
	if snap.ReviewURLs == nil {
		snap.ReviewURLs = []string{}
	}
	return &snap, nil
}
