package cache

import "github.com/tinyrange/memsim/internal/simstat"

// findPlace installs entry into set, choosing a way per spec.md §4.5's
// find_place_in_l1/find_place_in_cache protocol: the first invalid way if
// one exists (a cold insert, via ageIncrease), otherwise the way with the
// highest LRU age (the least-recently-used way), whose previous contents
// are returned as the victim so the caller can re-home it in the next
// level. hadVictim is false on a cold insert. Every time a valid way is
// displaced, it is an eviction; rec/kind record it (rec may be nil).
func (c *Cache) findPlace(set int, entry Entry, rec *simstat.Recorder, kind simstat.Kind) (victim Entry, hadVictim bool) {
	s := c.sets[set]
	for w, e := range s {
		if !e.Valid {
			c.Insert(set, w, entry)
			c.ageIncrease(set, w)
			return Entry{}, false
		}
	}

	victimWay := 0
	for w, e := range s {
		if e.Age > s[victimWay].Age {
			victimWay = w
		}
	}
	victim = s[victimWay]
	c.Insert(set, victimWay, entry)
	c.ageUpdate(set, victimWay)
	if rec != nil {
		rec.Record(kind, simstat.Evict)
	}
	return victim, true
}

// promote installs a line-aligned entry into dst (typically an L1 cache),
// cascading any evicted victim into next (typically L2). The victim's own
// possible eviction out of next is dropped per spec.md's exclusive policy:
// a line promoted into L1 no longer needs to live in L2, and a line bumped
// out of L2 to make room has nowhere further to go (that further eviction,
// if any, is still counted against nextKind).
func promote(dst, next *Cache, lineBase uint64, line [WordsPerLine]uint32, rec *simstat.Recorder, dstKind, nextKind simstat.Kind) {
	entry, err := EntryInit(lineBase, line, dst.geo)
	if err != nil {
		// lineBase is always produced by lineBaseOf in ops.go, which
		// truncates to a line boundary; this path is unreachable.
		return
	}
	set := dst.setIndex(lineBase)
	victim, had := dst.findPlace(set, entry, rec, dstKind)
	if !had || next == nil {
		return
	}

	victimPaddr := dst.reconstructPaddr(victim.Tag, set)
	nextEntry, err := EntryInit(victimPaddr, victim.Line, next.geo)
	if err != nil {
		return
	}
	next.findPlace(next.setIndex(victimPaddr), nextEntry, rec, nextKind)
}

// invalidate removes a single (set, way) entry, used when a line is consumed
// out of L2 on promotion. The ways after it shift down one place and the last
// way is zeroed, so the valid ways stay a contiguous prefix of the set (which
// Lookup's early exit relies on); every remaining way older than the removed
// one has its age lowered by one, so the ages stay a permutation of 0..k-1.
func (c *Cache) invalidate(set, way int) {
	s := c.sets[set]
	removedAge := s[way].Age
	copy(s[way:], s[way+1:])
	s[len(s)-1] = Entry{}
	for w := range s {
		if s[w].Valid && s[w].Age > removedAge {
			s[w].Age--
		}
	}
}
