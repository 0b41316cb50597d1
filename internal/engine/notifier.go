package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Change signals that roster data for a company was modified and its
// due sets and cache keys must be recomputed.
type Change struct {
	CompanyID string `json:"companyId"`
	Kind      string `json:"kind"` // customers, employees, rollover
}

// Notifier carries change signals from the record source to the
// reconciliation loop.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// MemoryNotifier is a process-local Notifier for single-instance
// deployments and tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: map[chan Change]struct{}{}}
}

func (n *MemoryNotifier) Publish(_ context.Context, c Change) error {
	n.mu.Lock()
	for ch := range n.subs {
		select {
		case ch <- c:
		default:
		}
	}
	n.mu.Unlock()
	return nil
}

func (n *MemoryNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisNotifier carries change signals over Redis Pub/Sub so multiple
// instances converge on the same reconciliation triggers.
type RedisNotifier struct {
	rdb *redis.Client
}

const redisChangeChannel = "company:changed"

func NewRedisNotifier(url string) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisNotifier{rdb: redis.NewClient(opt)}, nil
}

func (n *RedisNotifier) Publish(ctx context.Context, c Change) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(c)
	return n.rdb.Publish(ctx, redisChangeChannel, data).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := n.rdb.Subscribe(ctx, redisChangeChannel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}
	ch := make(chan Change, 16)
	go func() {
		defer close(ch)
		defer func() { _ = ps.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err == nil {
					select {
					case ch <- c:
					default:
					}
				}
			}
		}
	}()
	return ch, nil
}
