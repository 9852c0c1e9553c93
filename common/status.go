package common

//go:generate enumer -json -sql -type Status -trimprefix Status

// Status of one tile within a run
type Status int

const (
	StatusNEW Status = iota
	StatusPENDING
	StatusDONE
	StatusFAILED
	StatusSKIPPED
)

//go:generate enumer -json -type RunState -trimprefix Run

// RunState is the state machine of a pipeline run:
// Pending -> Locating -> Processing -> Completed
// Locating may transition to Failed, Processing to Cancelled.
type RunState int

const (
	RunPending RunState = iota
	RunLocating
	RunProcessing
	RunCompleted
	RunFailed
	RunCancelled
)

// Terminal returns whether the run state is final
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

//go:generate enumer -json -type ErrorKind -trimprefix Kind

// ErrorKind classifies a tile or run failure.
// Every tile that does not produce a stored raster is accounted for by
// exactly one kind.
type ErrorKind int

const (
	KindCatalogUnavailable ErrorKind = iota
	KindNotFound
	KindRateLimited
	KindTransientNetworkError
	KindCorruptData
	KindTimedOut
	KindStoreUnavailable
	KindCancelled
)

// Retriable returns whether a failure of this kind may be retried
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindRateLimited, KindTransientNetworkError:
		return true
	}
	return false
}
