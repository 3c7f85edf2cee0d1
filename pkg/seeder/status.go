package seeder

import "fmt"

// JobStatus represents the overall status of a remote job.
type JobStatus string

const (
	// JobStatusPending indicates the job was submitted but has not started.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusInProgress indicates the job is executing phases.
	JobStatusInProgress JobStatus = "IN_PROGRESS"

	// JobStatusSucceeded indicates all phases completed successfully.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed indicates a phase failed.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusFault indicates the executor itself faulted.
	JobStatusFault JobStatus = "FAULT"

	// JobStatusStopped indicates the executor was interrupted.
	JobStatusStopped JobStatus = "STOPPED"

	// JobStatusTimedOut indicates the executor-side timeout elapsed.
	JobStatusTimedOut JobStatus = "TIMED_OUT"
)

// IsTerminal returns true if the status represents a final state. There are
// no transitions out of a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusFault,
		JobStatusStopped, JobStatusTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == JobStatusPending {
		return true
	}
	// In progress may reach any terminal state but never return to pending.
	return next != JobStatusPending
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusSucceeded,
		JobStatusFailed, JobStatusFault, JobStatusStopped, JobStatusTimedOut:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// JobPhase represents an ordered stage within a job's execution.
type JobPhase string

const (
	PhaseSubmitted       JobPhase = "SUBMITTED"
	PhaseQueued          JobPhase = "QUEUED"
	PhaseProvisioning    JobPhase = "PROVISIONING"
	PhaseDownloadSource  JobPhase = "DOWNLOAD_SOURCE"
	PhaseInstall         JobPhase = "INSTALL"
	PhasePreBuild        JobPhase = "PRE_BUILD"
	PhaseBuild           JobPhase = "BUILD"
	PhasePostBuild       JobPhase = "POST_BUILD"
	PhaseUploadArtifacts JobPhase = "UPLOAD_ARTIFACTS"
	PhaseFinalizing      JobPhase = "FINALIZING"
	PhaseCompleted       JobPhase = "COMPLETED"
)

// PhaseStatus is the status of one phase.
type PhaseStatus string

const (
	PhaseStatusQueued     PhaseStatus = "QUEUED"
	PhaseStatusInProgress PhaseStatus = "IN_PROGRESS"
	PhaseStatusSucceeded  PhaseStatus = "SUCCEEDED"
	PhaseStatusFailed     PhaseStatus = "FAILED"
	PhaseStatusFault      PhaseStatus = "FAULT"
	PhaseStatusStopped    PhaseStatus = "STOPPED"
	PhaseStatusTimedOut   PhaseStatus = "TIMED_OUT"
)

// IsFailure returns true if the phase ended unsuccessfully.
func (s PhaseStatus) IsFailure() bool {
	switch s {
	case PhaseStatusFailed, PhaseStatusFault, PhaseStatusStopped, PhaseStatusTimedOut:
		return true
	}
	return false
}

// PhaseInfo describes one observed phase of a job.
type PhaseInfo struct {
	// Phase is the phase type.
	Phase JobPhase `json:"phase"`

	// Status is the phase status, empty while the phase is current.
	Status PhaseStatus `json:"status,omitempty"`

	// Message carries the phase context message on failure.
	Message string `json:"message,omitempty"`
}

// FirstFailure returns the first failing phase of the slice, if any.
// When abort-on-failure is disabled several phases may fail; the first
// failure is authoritative for attribution.
func FirstFailure(phases []PhaseInfo) (PhaseInfo, bool) {
	for _, p := range phases {
		if p.Status.IsFailure() {
			return p, true
		}
	}
	return PhaseInfo{}, false
}
