package durable

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
)

// Queue delivers WorkItems to Worker, at-least-once: a Dequeue that isn't
// followed by Ack may be redelivered. NotBefore on an item means "don't
// deliver until", used for cron/interval scheduling and Context.Sleep
// resumes.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, bool, error)
	Ack(ctx context.Context, item WorkItem) error
	Nack(ctx context.Context, item WorkItem) error
}

// MemoryQueue is an in-process Queue ordered by NotBefore, implemented as
// a min-heap so delayed items (sleeps, scheduled runs) don't need a
// separate timer goroutine per item.
type MemoryQueue struct {
	mu    sync.Mutex
	items memQueueHeap
}

type memQueueItem struct {
	item WorkItem
}

type memQueueHeap []memQueueItem

func (h memQueueHeap) Len() int { return len(h) }
func (h memQueueHeap) Less(i, j int) bool {
	return h[i].item.NotBefore.Before(h[j].item.NotBefore)
}
func (h memQueueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *memQueueHeap) Push(x any)   { *h = append(*h, x.(memQueueItem)) }
func (h *memQueueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMemoryQueue builds an empty in-process Queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{}
	heap.Init(&q.items)
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, memQueueItem{item: item})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (WorkItem, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return WorkItem{}, false, nil
	}
	if q.items[0].item.NotBefore.After(time.Now()) {
		return WorkItem{}, false, nil
	}
	top := heap.Pop(&q.items).(memQueueItem)
	return top.item, true, nil
}

// Ack is a no-op: MemoryQueue removes an item from its heap at Dequeue time.
func (q *MemoryQueue) Ack(ctx context.Context, item WorkItem) error { return nil }

// Nack re-enqueues item with its attempt counter incremented.
func (q *MemoryQueue) Nack(ctx context.Context, item WorkItem) error {
	item.Attempt++
	return q.Enqueue(ctx, item)
}

// RedisQueue implements Queue atop a Redis list, grounded on the same
// RPush/BLPop pattern as a simple job queue: Enqueue pushes, Dequeue pops
// with a short blocking timeout so Worker can poll cooperatively instead
// of busy-looping.
type RedisQueue struct {
	client     *redis.Client
	key        string
	popTimeout time.Duration
}

// NewRedisQueue wraps client, storing items under key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, popTimeout: 2 * time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, item WorkItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("durable: marshal work item: %w", err)
	}
	return q.client.RPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (WorkItem, bool, error) {
	res, err := q.client.BLPop(ctx, q.popTimeout, q.key).Result()
	if err == redis.Nil {
		return WorkItem{}, false, nil
	}
	if err != nil {
		return WorkItem{}, false, err
	}
	var item WorkItem
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return WorkItem{}, false, fmt.Errorf("durable: unmarshal work item: %w", err)
	}
	if item.NotBefore.After(time.Now()) {
		if err := q.Enqueue(ctx, item); err != nil {
			return WorkItem{}, false, err
		}
		return WorkItem{}, false, nil
	}
	return item, true, nil
}

// Ack is a no-op: RedisQueue's BLPop already removed the item.
func (q *RedisQueue) Ack(ctx context.Context, item WorkItem) error { return nil }

// Nack re-enqueues item with its attempt counter incremented.
func (q *RedisQueue) Nack(ctx context.Context, item WorkItem) error {
	item.Attempt++
	return q.Enqueue(ctx, item)
}

// AMQPQueue implements Queue atop a RabbitMQ queue, using manual ack/nack
// so a worker crash between Dequeue and Ack redelivers the message.
type AMQPQueue struct {
	channel   *amqp.Channel
	queueName string

	mu      sync.Mutex
	pending map[uint64]amqp.Delivery
	deliveries <-chan amqp.Delivery
}

// NewAMQPQueue declares a durable queue named queueName on channel and
// begins consuming from it.
func NewAMQPQueue(channel *amqp.Channel, queueName string) (*AMQPQueue, error) {
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("durable: declare queue %s: %w", queueName, err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("durable: set qos: %w", err)
	}
	deliveries, err := channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("durable: consume queue %s: %w", queueName, err)
	}
	return &AMQPQueue{
		channel:    channel,
		queueName:  queueName,
		pending:    make(map[uint64]amqp.Delivery),
		deliveries: deliveries,
	}, nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, item WorkItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("durable: marshal work item: %w", err)
	}
	return q.channel.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         raw,
		DeliveryMode: amqp.Persistent,
	})
}

func (q *AMQPQueue) Dequeue(ctx context.Context) (WorkItem, bool, error) {
	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return WorkItem{}, false, fmt.Errorf("durable: amqp delivery channel closed")
		}
		var item WorkItem
		if err := json.Unmarshal(d.Body, &item); err != nil {
			_ = d.Nack(false, false)
			return WorkItem{}, false, fmt.Errorf("durable: unmarshal work item: %w", err)
		}
		q.mu.Lock()
		q.pending[d.DeliveryTag] = d
		q.mu.Unlock()
		item.Attempt = int(d.DeliveryTag)
		return item, true, nil
	case <-ctx.Done():
		return WorkItem{}, false, ctx.Err()
	default:
		return WorkItem{}, false, nil
	}
}

func (q *AMQPQueue) Ack(ctx context.Context, item WorkItem) error {
	q.mu.Lock()
	d, ok := q.pending[uint64(item.Attempt)]
	delete(q.pending, uint64(item.Attempt))
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return d.Ack(false)
}

func (q *AMQPQueue) Nack(ctx context.Context, item WorkItem) error {
	q.mu.Lock()
	d, ok := q.pending[uint64(item.Attempt)]
	delete(q.pending, uint64(item.Attempt))
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return d.Nack(false, true)
}
