package core

import (
	"time"
)

// TaskType names the maintenance action a task definition schedules.
type TaskType string

const (
	TaskTypeSnapshot TaskType = "snapshot"
	TaskTypeScrub    TaskType = "scrub"
	TaskTypeReboot   TaskType = "reboot"
	TaskTypeShutdown TaskType = "shutdown"
	TaskTypeSuspend  TaskType = "suspend"
	TaskTypeCustom   TaskType = "custom"
)

// ValidTaskTypes lists the task types accepted at the management boundary.
var ValidTaskTypes = []TaskType{
	TaskTypeSnapshot,
	TaskTypeScrub,
	TaskTypeReboot,
	TaskTypeShutdown,
	TaskTypeSuspend,
	TaskTypeCustom,
}

// Valid reports whether t is one of ValidTaskTypes.
func (t TaskType) Valid() bool {
	for _, v := range ValidTaskTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TaskDefinition is a stored recurring maintenance action and its schedule.
type TaskDefinition struct {
	ID            int64
	Name          string
	TaskType      TaskType
	Crontab       *string
	CrontabWindow *string
	Meta          Meta
	Enabled       bool
}

// EmailClient is a configured mail-sender identity.
type EmailClient struct {
	ID         int64
	SMTPServer string
	Port       int
	Sender     string
	Receiver   string
	Username   string
	CreatedAt  time.Time
}

// ServiceListener is the runtime-configurable listener of the web service.
// A nil *ServiceListener means no explicit listener has been configured.
type ServiceListener struct {
	NetworkInterface string
	ListenerPort     int
}

// ValidPort reports whether n is a usable TCP port.
func ValidPort(n int) bool {
	return n >= 1 && n <= 65535
}

// StageStatus is the outcome of a single bootstrap stage.
type StageStatus string

const (
	StageApplied StageStatus = "applied"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
	StageAborted StageStatus = "aborted"
)

// RunStatus describes the state of a bootstrap run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusAborted   RunStatus = "aborted"
)

// BootRun captures one invocation of the bootstrap sequence.
type BootRun struct {
	ID        string
	Status    RunStatus
	StartedAt time.Time
	EndedAt   *time.Time
	Stages    []StageResult
}

// StageResult records how one stage of a run ended.
type StageResult struct {
	Seq      int
	Name     string
	Status   StageStatus
	Changed  bool
	Error    *string
	Duration time.Duration
}
