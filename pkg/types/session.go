// Package types provides the core data types for the agentdesk session runtime.
package types

// RunStatus is the lifecycle status of a session run. A session is in exactly
// one status at a time; the terminal statuses are mutually exclusive and are
// entered only from StatusRunning.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusResumable RunStatus = "resumable"
	StatusCrashed   RunStatus = "crashed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusResumable, StatusCrashed, StatusCancelled:
		return true
	}
	return false
}

// WaitingType identifies which kind of blocking tool a session is waiting on.
type WaitingType string

const (
	WaitingNone     WaitingType = ""
	WaitingQuestion WaitingType = "question"
	WaitingPlan     WaitingType = "plan"
)

// ExecutionMode controls how much autonomy the backend agent has.
type ExecutionMode string

const (
	ModePlan  ExecutionMode = "plan"
	ModeBuild ExecutionMode = "build"
	ModeYolo  ExecutionMode = "yolo"
)

// ThinkingLevel selects the extended-thinking budget for a session.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingNormal ThinkingLevel = "normal"
	ThinkingHard   ThinkingLevel = "hard"
)

// Session identifies one conversation with the backend agent, scoped to a
// worktree.
type Session struct {
	ID           string      `json:"id"`
	WorktreeID   string      `json:"worktree_id"`
	WorktreePath string      `json:"worktree_path,omitempty"`
	Title        string      `json:"title,omitempty"`
	Time         SessionTime `json:"time"`

	Model         string        `json:"model,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`
	ThinkingLevel ThinkingLevel `json:"thinking_level,omitempty"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	LastOpened *int64 `json:"last_opened,omitempty"`
}

// SessionState is the durable, derived slice of session status that other
// clients read. It is written through the persistence gate only.
type SessionState struct {
	SessionID            string      `json:"session_id"`
	WorktreeID           string      `json:"worktree_id"`
	WorktreePath         string      `json:"worktree_path,omitempty"`
	LastRunStatus        RunStatus   `json:"last_run_status"`
	WaitingForInput      bool        `json:"waiting_for_input"`
	WaitingForInputType  WaitingType `json:"waiting_for_input_type,omitempty"`
	IsReviewing          bool        `json:"is_reviewing"`
	PendingPlanMessageID string      `json:"pending_plan_message_id,omitempty"`
	PlanFilePath         string      `json:"plan_file_path,omitempty"`
	ApprovedPlanIDs      []string    `json:"approved_plan_message_ids,omitempty"`
}

// Digest is a short generated summary of a finished run, created only when
// the user was not actively watching it.
type Digest struct {
	TriggerSummary string `json:"trigger_summary"`
	LastAction     string `json:"last_action"`
}

// CompactMetadata describes a context compaction reported by the backend.
type CompactMetadata struct {
	Trigger string `json:"trigger"` // "auto" | "manual"
}
