// Package ingest runs the background worker that keeps calendar feeds in
// sync, driven by the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calmweave/keepsake/internal/calendar"
	"github.com/calmweave/keepsake/internal/storage"
)

// JobStore abstracts the queue and feed operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetFeed(id, userID string) (storage.CalendarFeed, error)
	ListFeeds(userID string) ([]storage.CalendarFeed, error)
	UpsertEvent(ev storage.Event) (string, error)
	UpdateFeedSyncState(id, userID string, syncedAt time.Time, lastError string) error
}

// FeedFetcher downloads and parses one ICS feed URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]calendar.Event, error)
}

// Worker processes calendar_sync and calendar_sync_all jobs.
type Worker struct {
	store   JobStore
	fetcher FeedFetcher
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, fetcher FeedFetcher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		fetcher: fetcher,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"calendar_sync", "calendar_sync_all"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// syncPayload is the job payload for both job types; calendar_sync_all
// carries only user_id.
type syncPayload struct {
	FeedID string `json:"feed_id,omitempty"`
	UserID string `json:"user_id"`
}

// SyncJob builds a calendar_sync job for one feed, ready to enqueue.
func SyncJob(feedID, userID string) storage.Job {
	payload, _ := json.Marshal(syncPayload{FeedID: feedID, UserID: userID})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        "calendar_sync",
		PayloadJSON: string(payload),
	}
}

// SyncAllJob builds a calendar_sync_all job covering every feed of one user.
func SyncAllJob(userID string) storage.Job {
	payload, _ := json.Marshal(syncPayload{UserID: userID})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        "calendar_sync_all",
		PayloadJSON: string(payload),
	}
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload syncPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	switch job.Type {
	case "calendar_sync":
		feed, err := w.store.GetFeed(payload.FeedID, payload.UserID)
		if err != nil {
			return fmt.Errorf("loading feed %s: %w", payload.FeedID, err)
		}
		return w.syncFeed(ctx, feed)
	case "calendar_sync_all":
		return w.SyncAll(ctx, payload.UserID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// SyncAll fetches every registered feed, at most four at a time. Each feed
// records its own sync outcome; the first error is still returned so the job
// is retried with backoff.
func (w *Worker) SyncAll(ctx context.Context, userID string) error {
	feeds, err := w.store.ListFeeds(userID)
	if err != nil {
		return fmt.Errorf("listing feeds: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			return w.syncFeed(gCtx, feed)
		})
	}
	return g.Wait()
}

// syncFeed pulls one feed and records the outcome on the feed row, error or
// not, so the owner can see when a feed last worked.
func (w *Worker) syncFeed(ctx context.Context, feed storage.CalendarFeed) error {
	err := w.pullFeed(ctx, feed)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if stateErr := w.store.UpdateFeedSyncState(feed.ID, feed.UserID, time.Now().UTC(), msg); stateErr != nil {
		w.logger.Error("recording feed sync state", "feed_id", feed.ID, "error", stateErr)
	}
	return err
}

func (w *Worker) pullFeed(ctx context.Context, feed storage.CalendarFeed) error {
	events, err := w.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return fmt.Errorf("fetching feed %s: %w", feed.ID, err)
	}

	for _, ev := range events {
		attendees := ev.Attendees
		if attendees == nil {
			attendees = []string{}
		}
		attendeesJSON, err := json.Marshal(attendees)
		if err != nil {
			return fmt.Errorf("encoding attendees for %s: %w", ev.ExternalID, err)
		}
		if _, err := w.store.UpsertEvent(storage.Event{
			ID:              uuid.New().String(),
			UserID:          feed.UserID,
			SourceID:        feed.ID,
			ExternalEventID: ev.ExternalID,
			Title:           ev.Title,
			Description:     ev.Description,
			Location:        ev.Location,
			StartsAt:        ev.StartsAt,
			EndsAt:          ev.EndsAt,
			Attendees:       string(attendeesJSON),
		}); err != nil {
			return fmt.Errorf("upserting event %s: %w", ev.ExternalID, err)
		}
	}
	return nil
}
