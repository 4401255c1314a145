package worker

import (
	"context"

	"github.com/example/mail-courier/internal/kafka/consumer"
)

// KafkaHandler returns a consumer.Handler that transforms Kafka consumer
// records into worker records and delegates processing to the supplied engine.
// Offsets are committed through the consumer once the engine decides the
// record is done.
func KafkaHandler(engine *Engine, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}

		wr := &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       cloneBytes(rec.Key),
			Value:     cloneBytes(rec.Value),
			Timestamp: rec.Timestamp,
			Headers:   cloneHeaders(rec.Headers),
		}
		if cons != nil {
			wr.SetCommitFn(func(c context.Context) error {
				return cons.Commit(c, rec)
			})
		}

		engine.HandleRecord(ctx, wr)
		return nil
	}
}
