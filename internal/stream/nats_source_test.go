package stream

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"
)

// stubJetStream satisfies nats.JetStreamContext via embedding; only
// PullSubscribe is implemented, which is all subscription() touches.
type stubJetStream struct {
	nats.JetStreamContext
	calls atomic.Int64
}

func (s *stubJetStream) PullSubscribe(_ string, _ string, _ ...nats.SubOpt) (*nats.Subscription, error) {
	s.calls.Add(1)
	return &nats.Subscription{}, nil
}

func TestSubscriptionConcurrentFirstPoll(t *testing.T) {
	js := &stubJetStream{}
	src := &NATSSource{
		js: js,
		cfg: NATSConfig{
			Stream:        "FRAUD_DECISIONS",
			SubjectPrefix: "fraud.decisions",
			Durable:       "fraudgate",
			Partitions:    4,
		},
		subs: make(map[int]*nats.Subscription, 4),
	}

	// All partition workers race on their first fetch at startup.
	var wg sync.WaitGroup
	for round := 0; round < 8; round++ {
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func(partition int) {
				defer wg.Done()
				if _, err := src.subscription(partition); err != nil {
					t.Errorf("subscription(%d) error = %v", partition, err)
				}
			}(p)
		}
	}
	wg.Wait()

	if got := js.calls.Load(); got != 4 {
		t.Fatalf("PullSubscribe calls = %d, want one per partition", got)
	}
	if len(src.subs) != 4 {
		t.Fatalf("subs len = %d, want 4", len(src.subs))
	}
}
