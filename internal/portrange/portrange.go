// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package portrange implements the port-range algebra: normalization
// (sort + merge) and containment over lists of inclusive 16-bit port
// ranges, the way the data plane's port pools are described.
package portrange

import (
	"sort"

	nerrors "einat.dev/einatd/internal/errors"
)

// MaxRanges is the compile-time cap on the number of ranges a
// canonical PortRangeList may hold, mirroring the data plane's
// MAX_PORT_RANGES constant.
const MaxRanges = 4

// Range is a closed interval [Lo, Hi] of 16-bit ports. A range is
// empty iff Lo > Hi.
type Range struct {
	Lo uint16
	Hi uint16
}

func (r Range) empty() bool {
	return r.Lo > r.Hi
}

// List is an ordered, canonicalized sequence of Range: sorted by Lo
// ascending, no two elements overlapping or adjacent, length bounded
// by MaxRanges.
type List []Range

// FromRaw validates and normalizes raw into a canonical List. If
// allowZero is false and any range starts at port 0, it fails with a
// KindConfigValidation error tagged ZeroNotAllowed.
func FromRaw(raw []Range, allowZero bool) (List, error) {
	if !allowZero {
		for _, r := range raw {
			if r.Lo == 0 {
				return nil, nerrors.Attr(
					nerrors.New(nerrors.KindConfigValidation, "port range starts at zero"),
					"reason", "ZeroNotAllowed",
				)
			}
		}
	}
	return Normalize(raw)
}

// Normalize drops empty ranges, sorts stably by Lo, and merges
// overlapping or adjacent ranges (gap >= 1 kept separate). It fails
// with KindConfigValidation/TooManyRanges if the canonical length
// exceeds MaxRanges.
func Normalize(xs []Range) (List, error) {
	filtered := make([]Range, 0, len(xs))
	for _, r := range xs {
		if !r.empty() {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Lo < filtered[j].Lo
	})

	var out List
	for _, r := range filtered {
		if len(out) == 0 {
			out = append(out, r)
			continue
		}
		last := &out[len(out)-1]
		if uint32(r.Lo) <= addOne(last.Hi) {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}

	if len(out) > MaxRanges {
		return nil, nerrors.Attr(
			nerrors.New(nerrors.KindConfigValidation, "too many port ranges"),
			"reason", "TooManyRanges",
		)
	}
	return out, nil
}

// addOne returns hi+1 widened to uint32, so that a range ending at
// 65535 yields 65536 instead of wrapping around to 0.
func addOne(hi uint16) uint32 {
	return uint32(hi) + 1
}

// Contains reports whether every port in b is covered by some single
// range of a (a ⊇ b), after normalizing both. Because a is disjoint
// and sorted, no range of b can straddle two ranges of a.
func Contains(a, b []Range) (bool, error) {
	na, err := Normalize(a)
	if err != nil {
		return false, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return false, err
	}

	j := 0
	for _, ai := range na {
		for j < len(nb) && nb[j].Lo <= ai.Hi {
			if nb[j].Lo < ai.Lo || nb[j].Hi > ai.Hi {
				return false, nil
			}
			j++
		}
	}
	return j == len(nb), nil
}

// Ports returns the total number of distinct ports covered by l.
func (l List) Ports() int {
	n := 0
	for _, r := range l {
		n += int(r.Hi) - int(r.Lo) + 1
	}
	return n
}
