package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"oracle-pricemodel/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads published quotes back: the latest value, stream history and
// the live pubsub feed.
type Reader struct {
	client *goredis.Client
}

// NewReader connects to Redis and pings the server.
func NewReader(cfg Config) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Latest returns the last quote published for symbol. ok is false once the key expired.
func (r *Reader) Latest(ctx context.Context, symbol string) (q model.Quote, ok bool, err error) {
	data, err := r.client.Get(ctx, LatestKey(symbol)).Bytes()
	if err == goredis.Nil {
		return q, false, nil
	}
	if err != nil {
		return q, false, fmt.Errorf("redis GET %s: %w", LatestKey(symbol), err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, false, fmt.Errorf("decode quote: %w", err)
	}
	return q, true, nil
}

// History returns up to count of the most recent stream entries, oldest first.
func (r *Reader) History(ctx context.Context, symbol string, count int64) ([]model.Quote, error) {
	msgs, err := r.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", StreamKey(symbol), err)
	}

	quotes := make([]model.Quote, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		q, err := decodeMessage(msgs[i])
		if err != nil {
			log.Printf("[redis-reader] skipping %s entry %s: %v", StreamKey(symbol), msgs[i].ID, err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func decodeMessage(msg goredis.XMessage) (model.Quote, error) {
	var q model.Quote
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return q, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return q, err
	}
	return q, nil
}

// Subscribe forwards live quotes for symbols into out. Slow consumers miss
// quotes rather than block the subscription. Blocks until ctx is cancelled.
func (r *Reader) Subscribe(ctx context.Context, symbols []string, out chan<- model.Quote) error {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = PubSubChannel(s)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %v: %w", channels, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var q model.Quote
			if err := json.Unmarshal([]byte(msg.Payload), &q); err != nil {
				continue
			}
			select {
			case out <- q:
			default:
			}
		}
	}
}

// Ping checks the connection for health reporting.
func (r *Reader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
