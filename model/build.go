package model

import "time"

// BuildState is the lifecycle state of a build.
type BuildState string

// Build states. Tasked is an alias of processing used by the build scheduler.
const (
	BuildCreated    BuildState = "created"
	BuildQueued     BuildState = "queued"
	BuildTasked     BuildState = "tasked"
	BuildProcessing BuildState = "processing"
	BuildSuccess    BuildState = "success"
	BuildError      BuildState = "error"
)

var buildTransitions = map[BuildState][]BuildState{
	BuildCreated:    {BuildQueued, BuildError},
	BuildQueued:     {BuildTasked, BuildProcessing, BuildError},
	BuildTasked:     {BuildProcessing, BuildSuccess, BuildError},
	BuildProcessing: {BuildSuccess, BuildError},
}

// Valid reports whether s is a known build state.
func (s BuildState) Valid() bool {
	switch s {
	case BuildCreated, BuildQueued, BuildTasked, BuildProcessing, BuildSuccess, BuildError:
		return true
	}
	return false
}

// IsFinished reports whether s is a terminal state.
func (s BuildState) IsFinished() bool {
	return s == BuildSuccess || s == BuildError
}

// CanTransitionTo reports whether a build in state s may move to next.
func (s BuildState) CanTransitionTo(next BuildState) bool {
	for _, allowed := range buildTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Build is a single run of the static-site builder for one branch of a site
type Build struct {
	ID                 int64      `json:"id"`
	SiteID             int64      `json:"siteId"`
	UserID             *int64     `json:"userId,omitempty"`
	Username           string     `json:"username,omitempty"`
	Branch             string     `json:"branch"`
	State              BuildState `json:"state"`
	RequestedCommitSha string     `json:"requestedCommitSha,omitempty"`
	ClonedCommitSha    string     `json:"clonedCommitSha,omitempty"`
	Token              string     `json:"token,omitempty"`
	Error              string     `json:"error,omitempty"`
	URL                string     `json:"url,omitempty"`
	ReportedState      string     `json:"reportedState,omitempty"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// CommitSha is the cloned commit when known, else the requested one.
func (b *Build) CommitSha() string {
	if b.ClonedCommitSha != "" {
		return b.ClonedCommitSha
	}
	return b.RequestedCommitSha
}
