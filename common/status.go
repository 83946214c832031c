package common

//go:generate enumer -json -sql -type JobStatus -trimprefix JobStatus

// JobStatus is the lifecycle state of a cube job.
type JobStatus int

const (
	JobStatusNEW JobStatus = iota
	JobStatusPENDING
	JobStatusDONE
	JobStatusFAILED
	JobStatusRETRY
)
