package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"splitter/internal/amqp"
	"splitter/internal/cache"
	"splitter/internal/core"
	"splitter/internal/log"
	"splitter/internal/services"
)

// ResultPublisher sends split results back to the broker
type ResultPublisher interface {
	PublishSplitResult(ctx context.Context, msg *amqp.SplitResultMessage) error
}

const (
	recentResults   = 1000
	recentResultTTL = 10 * time.Minute
)

// SplitWorker answers split requests consumed from AMQP
type SplitWorker struct {
	splits    *services.SplitService
	publisher ResultPublisher
	logger    *log.Logger
	// results remembers what was computed per request ID so that a
	// redelivered request gets the same answer again
	results *cache.Recent[*amqp.SplitResultMessage]

	processed atomic.Int64
	duplicate atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

func NewSplitWorker(splits *services.SplitService, publisher ResultPublisher, logger *log.Logger) *SplitWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SplitWorker{
		splits:    splits,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentWorker),
		results:   cache.NewRecent[*amqp.SplitResultMessage](recentResults, recentResultTTL),
	}
}

// HandleSplitRequest computes the split for one message and publishes the
// result. Requests that cannot be split (duplicate ids, bad total) still get
// a result carrying the error; only a failed publish is returned, so that the
// consumer can requeue the message.
func (w *SplitWorker) HandleSplitRequest(ctx context.Context, msg *amqp.SplitRequestMessage) error {
	if cached, ok := w.results.Get(msg.RequestID); ok {
		w.duplicate.Add(1)
		w.logger.InfoContext(ctx, "Republishing result for repeated request",
			log.FieldMessageID, msg.RequestID)
		return w.publish(ctx, msg, cached)
	}

	result := amqp.NewSplitResultMessage(msg)
	preview, err := w.splits.Preview(ctx, msg.ToSplitRequest())
	if err != nil {
		w.rejected.Add(1)
		result.Error = err.Error()
		w.logger.WarnContext(ctx, "Split request rejected",
			log.FieldMessageID, msg.RequestID,
			log.FieldExpenseID, msg.ExpenseID,
			log.FieldError, err)
	} else {
		fillResult(result, preview)
	}
	w.results.Put(msg.RequestID, result)

	return w.publish(ctx, msg, result)
}

func (w *SplitWorker) publish(ctx context.Context, msg *amqp.SplitRequestMessage, result *amqp.SplitResultMessage) error {
	if err := w.publisher.PublishSplitResult(ctx, result); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("publish split result %s: %w", msg.RequestID, err)
	}

	w.processed.Add(1)
	w.logger.InfoContext(ctx, "Split request processed",
		log.FieldMessageID, msg.RequestID,
		log.FieldExpenseID, msg.ExpenseID,
		log.FieldPolicy, msg.Policy,
		log.FieldApplied, result.AppliedPolicy,
		log.FieldParticipants, len(result.Shares),
		log.FieldSuccess, result.Error == "")
	return nil
}

func fillResult(result *amqp.SplitResultMessage, p services.Preview) {
	result.AppliedPolicy = p.Applied.String()
	result.TotalCents = core.ToCents(p.Total).Cents
	result.Valid = p.Problem == nil
	result.Problem = p.Problem.String()
	result.FellBack = p.FellBack
	result.Clamped = p.Clamped
	result.Shares = make([]amqp.ShareMessage, len(p.Shares))
	for i, s := range p.Shares {
		result.Shares[i] = amqp.ShareMessage{
			ParticipantID: s.ParticipantID,
			Amount:        s.Amount,
			Cents:         p.Cents[i].Cents,
		}
	}
}

// Stats are the worker's message counters
type Stats struct {
	Processed int64
	Duplicate int64
	Rejected  int64
	Failed    int64
}

func (w *SplitWorker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Duplicate: w.duplicate.Load(),
		Rejected:  w.rejected.Load(),
		Failed:    w.failed.Load(),
	}
}
