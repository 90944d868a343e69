package progress

import "github.com/cantrace/crawlkit/internal/model"

// EventKind is one of the four wire event types §4.8 names, plus the
// synthetic subscriber_overflow terminal used to tell a dropped
// subscriber why its channel was closed.
type EventKind string

const (
	EventInitialStatus     EventKind = "initial_status"
	EventStatusUpdate      EventKind = "status_update"
	EventPageComplete      EventKind = "page_complete"
	EventJobCompleted      EventKind = "job_completed"
	EventJobFailed         EventKind = "job_failed"
	EventSubscriberOverflow EventKind = "subscriber_overflow"
)

// Event is the envelope delivered to every subscriber channel. Only
// one of Snapshot/Page is meaningful per Kind: Snapshot for
// initial_status/status_update/job_completed/job_failed, Page for
// page_complete. Both are zero for subscriber_overflow.
type Event struct {
	Kind     EventKind
	Snapshot model.JobSnapshot
	Page     *model.PageResult
}
