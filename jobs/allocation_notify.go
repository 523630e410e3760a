package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// EmailEnqueuer schedules email delivery.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// BatchNotifier turns allocation batch events into email tasks, one per recipient.
type BatchNotifier struct {
	queue      EmailEnqueuer
	recipients []string
	printer    *message.Printer
	logger     *slog.Logger
}

// NewBatchNotifier constructs a notifier. An unknown locale falls back to English.
func NewBatchNotifier(queue EmailEnqueuer, recipients []string, locale string, logger *slog.Logger) *BatchNotifier {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	clean := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			clean = append(clean, r)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchNotifier{queue: queue, recipients: clean, printer: message.NewPrinter(tag), logger: logger}
}

// BatchEvent enqueues the rendered notice for every recipient.
func (n *BatchNotifier) BatchEvent(ctx context.Context, notice allocation.BatchNotice) error {
	if n == nil || n.queue == nil || len(n.recipients) == 0 {
		return nil
	}
	subject, body := n.Render(notice)
	for _, to := range n.recipients {
		if _, err := n.queue.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body, Event: notice.Event}); err != nil {
			return fmt.Errorf("enqueue batch notice for %s: %w", to, err)
		}
	}
	n.logger.Info("batch notice enqueued",
		slog.String("batch_id", notice.BatchID),
		slog.String("event", notice.Event),
		slog.Int("recipients", len(n.recipients)))
	return nil
}

// Render builds the subject and plain text body of a notice.
func (n *BatchNotifier) Render(notice allocation.BatchNotice) (string, string) {
	p := n.printer
	subject := p.Sprintf("[Costing] Allocation batch %s %s", notice.BatchID, notice.Event)

	var b strings.Builder
	b.WriteString(p.Sprintf("Allocation batch %s was %s.\n\n", notice.BatchID, notice.Event))
	if !notice.PeriodStart.IsZero() {
		b.WriteString(p.Sprintf("Period: %s to %s\n", notice.PeriodStart.Format("2006-01-02"), notice.PeriodEnd.Format("2006-01-02")))
	}
	b.WriteString(p.Sprintf("Status: %s\n", notice.Status))
	if notice.JournalCount > 0 {
		b.WriteString(p.Sprintf("Journals: %d\n", notice.JournalCount))
	}
	if notice.SkippedCount > 0 {
		b.WriteString(p.Sprintf("Skipped rules: %d\n", notice.SkippedCount))
	}
	if !notice.TotalAllocated.IsZero() {
		b.WriteString(p.Sprintf("Total allocated: %s\n", shared.FormatMoney(p, notice.TotalAllocated)))
	}
	if notice.ActorID != 0 {
		b.WriteString(p.Sprintf("Actor: user %d\n", notice.ActorID))
	}
	return subject, b.String()
}
