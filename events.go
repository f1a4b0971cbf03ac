package dispatch

import (
	"context"

	"github.com/hirewire/dispatch/catalog"
)

// Domain-event emitters: thin helpers the surrounding recruiting system
// calls from its application and job lifecycle code. Each one is a plain
// Dispatch with the conventional payload shape.

// ApplicationReceived announces a newly submitted application.
func (d *Dispatcher) ApplicationReceived(ctx context.Context, application map[string]any) {
	d.Dispatch(ctx, catalog.ApplicationReceived, map[string]any{
		"application": application,
	})
}

// ApplicationStatusChanged announces an application status transition.
// Terminal statuses additionally emit their dedicated events.
func (d *Dispatcher) ApplicationStatusChanged(ctx context.Context, applicationID int64, oldStatus, newStatus string) {
	data := map[string]any{
		"application_id": applicationID,
		"old_status":     oldStatus,
		"new_status":     newStatus,
	}

	d.Dispatch(ctx, catalog.ApplicationStatusChanged, data)

	switch newStatus {
	case "hired":
		d.Dispatch(ctx, catalog.ApplicationHired, data)
	case "rejected":
		d.Dispatch(ctx, catalog.ApplicationRejected, data)
	}
}

// JobCreated announces a new job posting.
func (d *Dispatcher) JobCreated(ctx context.Context, jobID int64, title string) {
	d.Dispatch(ctx, catalog.JobCreated, jobData(jobID, title))
}

// JobUpdated announces an edit to an existing job posting.
func (d *Dispatcher) JobUpdated(ctx context.Context, jobID int64, title string) {
	d.Dispatch(ctx, catalog.JobUpdated, jobData(jobID, title))
}

// JobPublished announces a job posting going live.
func (d *Dispatcher) JobPublished(ctx context.Context, jobID int64, title string) {
	d.Dispatch(ctx, catalog.JobPublished, jobData(jobID, title))
}

// JobArchived announces a job posting being taken offline.
func (d *Dispatcher) JobArchived(ctx context.Context, jobID int64, title string) {
	d.Dispatch(ctx, catalog.JobArchived, jobData(jobID, title))
}

// JobDeleted announces a job posting being deleted.
func (d *Dispatcher) JobDeleted(ctx context.Context, jobID int64, title string) {
	d.Dispatch(ctx, catalog.JobDeleted, jobData(jobID, title))
}

func jobData(jobID int64, title string) map[string]any {
	return map[string]any{
		"job_id": jobID,
		"title":  title,
	}
}
