// Package bus fans a single stream of values out to several consumers.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from one input channel to every subscriber.
// A full subscriber channel drops the value for that subscriber only, so a
// slow sink never stalls the producer.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	names   []string
	bufSize int

	// OnDrop is called with the subscriber name when a value is dropped.
	OnDrop func(name string)
}

// New creates a FanOut whose subscriber channels hold bufSize values.
func New[T any](bufSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: bufSize}
}

// Subscribe registers a named consumer. Call before Run.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run forwards input to all subscribers and closes them on return.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						log.Printf("[bus] subscriber %s full, dropping value", f.names[i])
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports fill levels for saturation monitoring.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
