// Package clock은 테스트에서 시간을 고정할 수 있도록 현재 시각을 추상화합니다.
package clock

import (
	"sync"
	"time"
)

// Clock 현재 시각 제공자
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System은 time.Now를 사용하는 Clock입니다
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

// Fixed는 테스트용으로 직접 진행시키는 Clock입니다
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{now: t} }

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance는 시각을 d만큼 앞당깁니다
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
