package collab

import (
	"context"
	"errors"
)

const DefaultMaxSemaphore = 100

var (
	ErrSemaphoreTimeout     = errors.New("Acquire Reach time limit")
	ErrSemaphoreNotAcquired = errors.New("Release Failed, semaphore is not acquired")
)

// SemaphoreControl 限制同时在途的 Kafka SendMessage 数量
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(capacity int) *SemaphoreControl {
	if capacity <= 0 {
		capacity = DefaultMaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, capacity)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrSemaphoreTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotAcquired
	}
}

func (s *SemaphoreControl) InFlight() int { return len(s.ch) }
