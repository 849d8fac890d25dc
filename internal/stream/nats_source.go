package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"fraudgate/internal/errs"
)

type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Durable       string
	Partitions    int
}

// NATSSource reads decision events from a JetStream stream with one subject
// per partition (<prefix>.<n>). Each partition gets its own durable pull
// consumer so redelivery and ordering stay scoped to that partition.
type NATSSource struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	cfg  NATSConfig

	// Partition workers fetch concurrently; subs is lazily populated on
	// each partition's first poll.
	mu   sync.Mutex
	subs map[int]*nats.Subscription
}

func NewNATSSource(cfg NATSConfig) (*NATSSource, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("fraudgate-consumer"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %q", cfg.URL)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(err, "open jetstream context")
	}

	src := &NATSSource{
		conn: conn,
		js:   js,
		cfg:  cfg,
		subs: make(map[int]*nats.Subscription, cfg.Partitions),
	}
	if err := src.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return src, nil
}

// ensureStream creates the stream if it does not exist yet. Creation is
// idempotent so multiple consumer instances can race on startup.
func (s *NATSSource) ensureStream() error {
	_, err := s.js.StreamInfo(s.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errs.Wrapf(err, "look up stream %q", s.cfg.Stream)
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:      s.cfg.Stream,
		Subjects:  []string{s.cfg.SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return errs.Wrapf(err, "create stream %q", s.cfg.Stream)
	}
	return nil
}

func (s *NATSSource) subscription(partition int) (*nats.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[partition]; ok {
		return sub, nil
	}

	subject := fmt.Sprintf("%s.%d", s.cfg.SubjectPrefix, partition)
	durable := fmt.Sprintf("%s-p%d", s.cfg.Durable, partition)
	sub, err := s.js.PullSubscribe(subject, durable,
		nats.BindStream(s.cfg.Stream),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "subscribe partition %d", partition)
	}
	s.subs[partition] = sub
	return sub, nil
}

func (s *NATSSource) Fetch(ctx context.Context, partition int, max int, wait time.Duration) ([]Message, error) {
	sub, err := s.subscription(partition)
	if err != nil {
		return nil, err
	}

	raw, err := sub.Fetch(max, nats.MaxWait(wait))
	if err != nil {
		// Poll timeout is the idle case, not a failure.
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, errs.Wrapf(err, "fetch partition %d", partition)
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		offset := uint64(0)
		if meta, metaErr := m.Metadata(); metaErr == nil {
			offset = meta.Sequence.Stream
		}
		msgs = append(msgs, Message{
			Partition: partition,
			Offset:    offset,
			Key:       m.Header.Get("Nats-Msg-Id"),
			Data:      m.Data,
			ack:       func() error { return m.Ack() },
		})
	}
	return msgs, nil
}

func (s *NATSSource) Ack(_ context.Context, msg Message) error {
	if msg.ack == nil {
		return errors.New("message has no pending acknowledgement")
	}
	return msg.ack()
}

func (s *NATSSource) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
