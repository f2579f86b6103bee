package series

import (
	"path"
	"sort"
	"strconv"

	"github.com/maheshrc27/seriesflow/internal/storage"
)

// Entry is a file with its ordinal, the leading number in its name.
type Entry struct {
	Ordinal int
	File    storage.FileMeta
}

// ParseOrdinal reads the leading decimal digits of a file's base name, so
// "007_beach.jpg" is 7. Names without a leading number are not part of a series.
func ParseOrdinal(name string) (int, bool) {
	base := path.Base(name)
	end := 0
	for end < len(base) && base[end] >= '0' && base[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Sequence keeps files with an ordinal and sorts them ascending. Files sharing
// an ordinal are ordered by name so the first one is picked deterministically.
func Sequence(files []storage.FileMeta) []Entry {
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if n, ok := ParseOrdinal(f.Name); ok {
			entries = append(entries, Entry{Ordinal: n, File: f})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Ordinal != entries[j].Ordinal {
			return entries[i].Ordinal < entries[j].Ordinal
		}
		return entries[i].File.Name < entries[j].File.Name
	})
	return entries
}

type Action int

const (
	ActionPublish Action = iota
	ActionHealGap
	ActionLoop
	ActionComplete
)

func (a Action) String() string {
	switch a {
	case ActionPublish:
		return "publish"
	case ActionHealGap:
		return "heal_gap"
	case ActionLoop:
		return "loop"
	case ActionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type Selection struct {
	Action Action
	// Entry is set for ActionPublish.
	Entry Entry
	// Cursor is the cursor to persist for ActionHealGap and ActionLoop.
	Cursor int
}

// Select decides what a run does with the cursor given a sorted, non-empty sequence.
func Select(entries []Entry, cursor int, loop bool) Selection {
	for _, e := range entries {
		if e.Ordinal == cursor {
			return Selection{Action: ActionPublish, Entry: e}
		}
		if e.Ordinal > cursor {
			return Selection{Action: ActionHealGap, Cursor: e.Ordinal}
		}
	}

	if loop {
		return Selection{Action: ActionLoop, Cursor: entries[0].Ordinal}
	}
	return Selection{Action: ActionComplete}
}

// NextCursor computes the cursor after publishing ordinal. Past the last file
// it wraps to the first when looping, otherwise the series completes. A cursor
// that would move backwards without a wrap is a fatal error.
func NextCursor(entries []Entry, current, published int, loop bool) (next int, completed bool, err error) {
	first, last := entries[0].Ordinal, entries[len(entries)-1].Ordinal

	next = published + 1
	wrapped := false
	if next > last {
		if loop {
			next = first
			wrapped = true
		} else {
			completed = true
		}
	}

	if next < current && !wrapped {
		return current, false, &CursorRegressionError{From: current, To: next}
	}
	return next, completed, nil
}
