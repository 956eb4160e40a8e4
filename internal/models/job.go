// Package models defines data structures shared by the dispatcher components.
package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a job by the suffix of its identity.
type Kind string

const (
	KindNormal Kind = "normal"
	KindLight  Kind = "light"
	KindDark1  Kind = "dark1"
	KindDark2  Kind = "dark2"
	KindDark   Kind = "dark"
)

// Kinds lists every job kind in presentation order.
var Kinds = []Kind{KindNormal, KindLight, KindDark1, KindDark2, KindDark}

var jobIDPattern = regexp.MustCompile(`^([0-9]{6})(-dark1|-dark2|-dark|-light|-[0-9])?$`)

// JobID is the identity of one job directory: a six-digit run number with an
// optional suffix (e.g. "000123", "000123-light", "000123-2").
type JobID string

// ParseJobID validates s as a job identity.
func ParseJobID(s string) (JobID, error) {
	if !jobIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid job identity %q", s)
	}
	return JobID(s), nil
}

// IsJobID reports whether name is a valid job identity.
func IsJobID(name string) bool {
	return jobIDPattern.MatchString(name)
}

// FormatRun zero-pads a run number to six digits.
func FormatRun(run int) string {
	return fmt.Sprintf("%06d", run)
}

// NewJobID builds the identity for a run and suffix. An empty suffix yields
// the bare run number.
func NewJobID(run int, suffix string) JobID {
	if suffix == "" {
		return JobID(FormatRun(run))
	}
	return JobID(FormatRun(run) + "-" + suffix)
}

func (id JobID) String() string { return string(id) }

// Run returns the run number encoded in the identity, or -1 if malformed.
func (id JobID) Run() int {
	m := jobIDPattern.FindStringSubmatch(string(id))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// Suffix returns the part after the run number without the leading dash.
func (id JobID) Suffix() string {
	m := jobIDPattern.FindStringSubmatch(string(id))
	if m == nil {
		return ""
	}
	return strings.TrimPrefix(m[2], "-")
}

// Kind classifies the job. Numbered replicas and bare runs are normal.
func (id JobID) Kind() Kind {
	switch id.Suffix() {
	case "light":
		return KindLight
	case "dark1":
		return KindDark1
	case "dark2":
		return KindDark2
	case "dark":
		return KindDark
	default:
		return KindNormal
	}
}
