package window

import "machguard/internal/model"

func Slice(series []model.Observation, stop, size int) []model.Observation {
	if stop > len(series) {
		stop = len(series)
	}
	if stop <= 0 || size <= 0 {
		return nil
	}
	start := stop - size
	if start < 0 {
		start = 0
	}
	return series[start:stop]
}

type Buffer struct {
	data  []model.Observation
	head  int
	count int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]model.Observation, capacity)}
}

func (b *Buffer) Append(obs model.Observation) {
	idx := (b.head + b.count) % len(b.data)
	b.data[idx] = obs
	if b.count < len(b.data) {
		b.count++
		return
	}
	b.head = (b.head + 1) % len(b.data)
}

func (b *Buffer) Len() int {
	return b.count
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

func (b *Buffer) Last() (model.Observation, bool) {
	if b.count == 0 {
		return model.Observation{}, false
	}
	idx := (b.head + b.count - 1) % len(b.data)
	return b.data[idx], true
}

func (b *Buffer) Snapshot() []model.Observation {
	out := make([]model.Observation, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}
