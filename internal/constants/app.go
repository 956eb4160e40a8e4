package constants

import (
	"time"
)

// Job directory layout. Every job directory holds these files; the
// dispatcher writes run.sh and job.id, the job itself writes the rest.
const (
	// RunScriptName - generated job script submitted to the queue
	RunScriptName = "run.sh"

	// MarkerFileName - submission marker holding the queue's job id
	MarkerFileName = "job.id"

	// StatusFileName - progress file written by the detector-frame processor
	StatusFileName = "status.txt"

	// IndexedFileName - indexed pattern count written after indexing finishes
	IndexedFileName = "indexed.cnt"

	// RunInfoFileName - run metadata dump (contains the Comment line)
	RunInfoFileName = "run.info"

	// DetectorIniName - detector configuration expected in the work directory
	DetectorIniName = "sacla-photon.ini"
)

// Run planning
const (
	// ParallelSize - number of replicas a plain run is split into.
	// MUST match the value compiled into the frame processor.
	ParallelSize = 3

	// MaxRangeSize - largest span (end - start) accepted for a range submission
	MaxRangeSize = 100

	// DarkWaitTries - one-second sleeps a child job waits for the dark average
	DarkWaitTries = 1000

	// DefaultStation - experimental station number
	DefaultStation = 4

	// DefaultClenMM - default camera length in millimetres
	DefaultClenMM = 51.5
)

// Queue back-pressure
const (
	// DefaultQueueName - queue used when none is configured
	DefaultQueueName = "serial"

	// DefaultMaxJobs - occupancy cap for auto submission
	DefaultMaxJobs = 14

	// AutoSubmitLongWait - pause between auto submission scans
	AutoSubmitLongWait = 20 * time.Second

	// AutoSubmitShortWait - debounce before re-checking a candidate's marker
	AutoSubmitShortWait = 1 * time.Second
)

// Monitoring
const (
	// WatchInterval - status file polling interval per job
	WatchInterval = 1500 * time.Millisecond

	// RescanInterval - work directory rescan interval
	RescanInterval = 5 * time.Second

	// FollowInterval - run readiness polling interval while following
	FollowInterval = 5 * time.Second

	// DefaultMaxWatchers - capacity of the watcher arena
	DefaultMaxWatchers = 512

	// IndexedUnavailable - sentinel stored when indexed.cnt cannot be read
	IndexedUnavailable = "NA"
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Status updates arrive once per watch interval per job, so 1000 covers
	// a few hundred monitored jobs between drains.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)
