// Package precache installs a fixed manifest of versioned assets into a
// dedicated cache store and answers requests for them.
package precache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	platformerrors "github.com/jmgilman/go/errors"
)

// Entry is one build-time manifest item: a URL (relative to the worker
// location) and the hash of its content.
type Entry struct {
	URL  string
	Hash string
}

// UnmarshalJSON accepts the ["url", "hash"] pair form.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("manifest entry must be a [url, hash] pair, got %d items", len(pair))
	}
	e.URL, e.Hash = pair[0], pair[1]
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.URL, e.Hash})
}

// ParseManifest decodes a JSON manifest.
func ParseManifest(r io.Reader) ([]Entry, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "decode precache manifest")
	}
	for i, e := range entries {
		if e.URL == "" || e.Hash == "" {
			return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig, "manifest entry %d has an empty url or hash", i)
		}
	}
	return entries, nil
}

// LoadManifest reads the manifest file at path.
func LoadManifest(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "open precache manifest %s", path)
	}
	defer f.Close()

	return ParseManifest(f)
}
