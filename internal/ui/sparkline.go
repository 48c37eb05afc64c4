package ui

import "strings"

// Sparkline renders a text throughput chart using Unicode block
// characters. Samples live in a ring buffer; rendering scales them
// against the largest value in the visible window, so the chart stays
// readable after throughput drops.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// sparkChars are the block characters, shortest to tallest.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline creates a sparkline holding up to capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest once the buffer is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	if s.count < len(s.samples) {
		s.count++
	}
}

// Render returns the sparkline as a string of block characters at the
// given display width. Width <= 0 or beyond the buffer renders the
// full buffer. With no samples yet the line is all baseline bars; with
// fewer samples than width the right side is padded with spaces.
func (s *Sparkline) Render(width int) string {
	capacity := len(s.samples)
	if width <= 0 || width > capacity {
		width = capacity
	}

	vals := s.values()
	if len(vals) == 0 {
		return strings.Repeat(string(sparkChars[0]), width)
	}
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}

	max := 0.0
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		max = 1
	}

	var sb strings.Builder
	sb.Grow(width * 3) // block characters are 3 bytes in UTF-8
	for _, v := range vals {
		idx := int(v / max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx > len(sparkChars)-1 {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
	}
	for i := len(vals); i < width; i++ {
		sb.WriteRune(' ')
	}

	return sb.String()
}

// values returns the buffered samples oldest-first.
func (s *Sparkline) values() []float64 {
	n := min(s.count, len(s.samples))
	start := 0
	if s.count >= len(s.samples) {
		start = s.head
	}

	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// Clear resets the sparkline.
func (s *Sparkline) Clear() {
	s.head = 0
	s.count = 0
}

// Count returns the number of buffered samples.
func (s *Sparkline) Count() int {
	return s.count
}
