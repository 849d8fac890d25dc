package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	"fraudgate/internal/errs"
)

// NATSDeadLetterSink parks refused messages on a JetStream subject so the
// main partitions keep moving while someone inspects the failures.
type NATSDeadLetterSink struct {
	js      nats.JetStreamContext
	subject string
}

func NewNATSDeadLetterSink(js nats.JetStreamContext, stream string, subject string) (*NATSDeadLetterSink, error) {
	_, err := js.StreamInfo(stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
		})
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			err = nil
		}
	}
	if err != nil {
		return nil, errs.Wrapf(err, "ensure dead-letter stream %q", stream)
	}
	return &NATSDeadLetterSink{js: js, subject: subject}, nil
}

func (s *NATSDeadLetterSink) Publish(ctx context.Context, env DeadLetterEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(err, "encode dead-letter envelope")
	}
	if _, err := s.js.Publish(s.subject, body, nats.Context(ctx)); err != nil {
		return errs.Wrapf(err, "publish dead letter to %q", s.subject)
	}
	return nil
}

// JetStream exposes the source's JetStream context so the dead-letter sink
// can share one connection with the consumer.
func (s *NATSSource) JetStream() nats.JetStreamContext {
	return s.js
}
