package pipeline

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus()
		ch, cancel := b.Subscribe("")
		defer cancel()

		b.Publish(Event{Type: "stage", JobID: "j1", Stage: "extracting"})

		select {
		case evt := <-ch:
			if evt.Type != "stage" {
				t.Errorf("Type = %q, want stage", evt.Type)
			}
			if evt.JobID != "j1" {
				t.Errorf("JobID = %q, want j1", evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			if evt.Timestamp == "" {
				t.Error("expected non-empty timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("job_filter_drops_other_jobs", func(t *testing.T) {
		b := NewBus()
		ch, cancel := b.Subscribe("j2")
		defer cancel()

		b.Publish(Event{Type: "stage", JobID: "j1", Stage: "extracting"})
		b.Publish(Event{Type: "stage", JobID: "j2", Stage: "writing"})

		select {
		case evt := <-ch:
			if evt.JobID != "j2" {
				t.Errorf("JobID = %q, want j2", evt.JobID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
		select {
		case evt := <-ch:
			t.Errorf("unexpected second event %+v", evt)
		default:
		}
	})

	t.Run("cancel_removes_subscriber", func(t *testing.T) {
		b := NewBus()
		_, cancel := b.Subscribe("")
		if got := b.SubscriberCount(); got != 1 {
			t.Fatalf("SubscriberCount = %d, want 1", got)
		}
		cancel()
		if got := b.SubscriberCount(); got != 0 {
			t.Errorf("SubscriberCount = %d, want 0", got)
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		b := NewBus()
		_, cancel := b.Subscribe("")
		defer cancel()

		done := make(chan struct{})
		go func() {
			// Channel buffer is 64; publishing more must not block.
			for i := 0; i < 200; i++ {
				b.Publish(Event{Type: "stage", JobID: "j1", Stage: "writing"})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on slow subscriber")
		}
	})
}
