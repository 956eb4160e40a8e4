package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
)

// SpecKind tells how a run specification was written.
type SpecKind int

const (
	SpecSingle SpecKind = iota // "N"
	SpecRange                  // "N-M", inclusive
	SpecFollow                 // "N-", follow from N
)

// RunSpec is a parsed operator run specification.
type RunSpec struct {
	Kind  SpecKind
	First int
	Last  int // equals First for single runs; unused when following
}

var (
	singlePattern = regexp.MustCompile(`^([0-9]+)$`)
	rangePattern  = regexp.MustCompile(`^([0-9]+)-([0-9]+)$`)
	followPattern = regexp.MustCompile(`^([0-9]+)-$`)
)

// ParseRunSpec parses "N", "N-M" or "N-". Ranges with M-N greater than
// constants.MaxRangeSize are rejected with ErrOutOfBounds.
func ParseRunSpec(s string) (RunSpec, error) {
	s = strings.TrimSpace(s)

	if m := singlePattern.FindStringSubmatch(s); m != nil {
		n, err := atoiRun(m[1])
		if err != nil {
			return RunSpec{}, err
		}
		return RunSpec{Kind: SpecSingle, First: n, Last: n}, nil
	}

	if m := followPattern.FindStringSubmatch(s); m != nil {
		n, err := atoiRun(m[1])
		if err != nil {
			return RunSpec{}, err
		}
		return RunSpec{Kind: SpecFollow, First: n, Last: n}, nil
	}

	if m := rangePattern.FindStringSubmatch(s); m != nil {
		first, err := atoiRun(m[1])
		if err != nil {
			return RunSpec{}, err
		}
		last, err := atoiRun(m[2])
		if err != nil {
			return RunSpec{}, err
		}
		if last < first {
			return RunSpec{}, fmt.Errorf("%w: range %d-%d is reversed", planner.ErrInvalidParameters, first, last)
		}
		if last-first > constants.MaxRangeSize {
			return RunSpec{}, fmt.Errorf("%w: %d-%d spans more than %d runs",
				ErrOutOfBounds, first, last, constants.MaxRangeSize)
		}
		return RunSpec{Kind: SpecRange, First: first, Last: last}, nil
	}

	return RunSpec{}, fmt.Errorf("%w: run specification %q", planner.ErrInvalidParameters, s)
}

func atoiRun(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n > 999999 {
		return 0, fmt.Errorf("%w: run number %q", planner.ErrInvalidParameters, s)
	}
	return n, nil
}

// Runs lists the run numbers of a single or range specification.
func (r RunSpec) Runs() []int {
	if r.Kind == SpecFollow {
		return nil
	}
	runs := make([]int, 0, r.Last-r.First+1)
	for n := r.First; n <= r.Last; n++ {
		runs = append(runs, n)
	}
	return runs
}

func (r RunSpec) String() string {
	switch r.Kind {
	case SpecFollow:
		return fmt.Sprintf("%d-", r.First)
	case SpecRange:
		return fmt.Sprintf("%d-%d", r.First, r.Last)
	default:
		return strconv.Itoa(r.First)
	}
}
