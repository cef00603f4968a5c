package table

import (
	"fmt"

	"github.com/ajitpratap0/deltaflow/pkg/schema"
)

// Snapshot is the state of a table at one version.
type Snapshot struct {
	Version  int64
	Protocol Protocol
	Metadata Metadata
	Schema   *schema.TableSchema

	files   []Add
	index   map[string]int
	history []CommitInfo
}

func newSnapshot() *Snapshot {
	return &Snapshot{Version: -1, index: make(map[string]int)}
}

// Files returns the live data files in the order they were added.
func (s *Snapshot) Files() []Add {
	out := make([]Add, len(s.files))
	copy(out, s.files)
	return out
}

// NumRecords sums the row counts recorded in the live files' stats.
// Files without stats are skipped.
func (s *Snapshot) NumRecords() int64 {
	var n int64
	for i := range s.files {
		if c := s.files[i].NumRecords(); c > 0 {
			n += c
		}
	}
	return n
}

// History returns the commit info of every version, newest first.
func (s *Snapshot) History() []CommitInfo {
	out := make([]CommitInfo, len(s.history))
	for i, ci := range s.history {
		out[len(s.history)-1-i] = ci
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Version:  s.Version,
		Protocol: s.Protocol,
		Metadata: s.Metadata,
		Schema:   s.Schema,
		files:    make([]Add, len(s.files)),
		index:    make(map[string]int, len(s.index)),
		history:  make([]CommitInfo, len(s.history)),
	}
	copy(c.files, s.files)
	copy(c.history, s.history)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// apply folds the actions of one commit into the snapshot.
func (s *Snapshot) apply(version int64, actions []Action) error {
	if version != s.Version+1 {
		return fmt.Errorf("commit %d does not follow version %d", version, s.Version)
	}
	for _, a := range actions {
		switch {
		case a.CommitInfo != nil:
			ci := *a.CommitInfo
			ci.Version = version
			s.history = append(s.history, ci)
		case a.Protocol != nil:
			s.Protocol = *a.Protocol
		case a.MetaData != nil:
			sch, err := schema.Parse(a.MetaData.SchemaString)
			if err != nil {
				return fmt.Errorf("version %d: %w", version, err)
			}
			s.Metadata = *a.MetaData
			s.Schema = sch
		case a.Add != nil:
			if i, ok := s.index[a.Add.Path]; ok {
				s.files[i] = *a.Add
				continue
			}
			s.index[a.Add.Path] = len(s.files)
			s.files = append(s.files, *a.Add)
		case a.Remove != nil:
			s.removeFile(a.Remove.Path)
		}
	}
	if s.Schema == nil {
		return fmt.Errorf("version %d: table has no metadata", version)
	}
	s.Version = version
	return nil
}

func (s *Snapshot) removeFile(p string) {
	i, ok := s.index[p]
	if !ok {
		return
	}
	s.files = append(s.files[:i], s.files[i+1:]...)
	delete(s.index, p)
	for j := i; j < len(s.files); j++ {
		s.index[s.files[j].Path] = j
	}
}
