package cluster

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/hiercluster/internal/settings"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

const (
	keyDistance = "distance"
	keyIsLeaf   = "isLeaf"
	keyRowIndex = "rowIndex"
	keyStep     = "step"
	keyLeft     = "left"
	keyRight    = "right"
)

// ErrMalformedTree is returned when stored dendrogram settings are inconsistent
// with themselves or with the row source.
var ErrMalformedTree = errors.New("malformed dendrogram")

// RowProvider resolves leaf rows by their original input position.
type RowProvider interface {
	Row(i int) (table.Row, error)
	Len() int
}

// SaveDendrogram writes the subtree rooted at id into s. Leaves are stored
// by row index, so loading needs the original rows in their original order.
// Internal nodes carry their merge step so ties in height keep their order.
func SaveDendrogram(d *Dendrogram, id NodeID, s *settings.Settings) {
	s.AddDouble(keyDistance, d.Distance(id))
	leaf := d.IsLeaf(id)
	s.AddBool(keyIsLeaf, leaf)
	if leaf {
		s.AddInt(keyRowIndex, d.RowIndex(id))
		return
	}
	s.AddInt(keyStep, d.MergeStep(id))
	SaveDendrogram(d, d.Left(id), s.AddSettings(keyLeft))
	SaveDendrogram(d, d.Right(id), s.AddSettings(keyRight))
}

// LoadDendrogram rebuilds a tree written by SaveDendrogram. Children are
// created before their parent and the returned root is set on the dendrogram.
// Internal nodes without a step key get their load order as merge step.
func LoadDendrogram(s *settings.Settings, rows RowProvider) (*Dendrogram, NodeID, error) {
	l := &loader{
		d:     NewDendrogram(rows.Len()),
		rows:  rows,
		seen:  make(map[int]bool, rows.Len()),
		steps: make(map[int]bool),
	}
	root, err := l.load(s, "root")
	if err != nil {
		return nil, NoNode, err
	}
	l.d.SetRoot(root)
	return l.d, root, nil
}

type loader struct {
	d     *Dendrogram
	rows  RowProvider
	seen  map[int]bool
	steps map[int]bool
}

func (l *loader) load(s *settings.Settings, path string) (NodeID, error) {
	dist, err := s.GetDouble(keyDistance)
	if err != nil {
		return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
	}
	leaf, err := s.GetBool(keyIsLeaf)
	if err != nil {
		return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
	}

	if leaf {
		if s.Contains(keyLeft) || s.Contains(keyRight) {
			return NoNode, fmt.Errorf("%w at %s: leaf has child blocks", ErrMalformedTree, path)
		}
		idx, err := s.GetInt(keyRowIndex)
		if err != nil {
			return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
		}
		if idx < 0 || idx >= l.rows.Len() {
			return NoNode, fmt.Errorf("%w at %s: row index %d outside input of %d rows",
				ErrMalformedTree, path, idx, l.rows.Len())
		}
		if l.seen[idx] {
			return NoNode, fmt.Errorf("%w at %s: row index %d appears twice", ErrMalformedTree, path, idx)
		}
		l.seen[idx] = true
		row, err := l.rows.Row(idx)
		if err != nil {
			return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
		}
		return l.d.NewLeaf(row, idx), nil
	}

	if s.Contains(keyRowIndex) {
		return NoNode, fmt.Errorf("%w at %s: internal node has a row index", ErrMalformedTree, path)
	}
	step := -1
	if s.Contains(keyStep) {
		if step, err = s.GetInt(keyStep); err != nil {
			return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
		}
		if step < 0 || l.steps[step] {
			return NoNode, fmt.Errorf("%w at %s: invalid or repeated merge step %d", ErrMalformedTree, path, step)
		}
		l.steps[step] = true
	}
	leftSettings, err := s.GetSettings(keyLeft)
	if err != nil {
		return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
	}
	rightSettings, err := s.GetSettings(keyRight)
	if err != nil {
		return NoNode, fmt.Errorf("%w at %s: %w", ErrMalformedTree, path, err)
	}
	left, err := l.load(leftSettings, path+"."+keyLeft)
	if err != nil {
		return NoNode, err
	}
	right, err := l.load(rightSettings, path+"."+keyRight)
	if err != nil {
		return NoNode, err
	}
	if step < 0 {
		return l.d.Merge(left, right, dist), nil
	}
	return l.d.mergeAt(left, right, dist, step), nil
}
