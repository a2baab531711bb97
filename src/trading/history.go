package trading

import "papertrader/src/models"

// History is a fixed-capacity ring buffer of candles for one pair. The oldest candle is
// evicted first. A candle with the same open time as the newest one replaces it, which
// is how in-progress bars from a live stream are folded in.
type History struct {
	buf   []models.Candle
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]models.Candle, capacity)}
}

// Push appends c, or replaces the newest candle when both share an open time.
func (h *History) Push(c models.Candle) {
	if h.size > 0 && !c.Time.IsZero() {
		lastIdx := (h.start + h.size - 1) % len(h.buf)
		if h.buf[lastIdx].Time.Equal(c.Time) {
			h.buf[lastIdx] = c
			return
		}
	}
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = c
		h.size++
		return
	}
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
}

// Candles returns the buffered candles oldest first, as a copy.
func (h *History) Candles() []models.Candle {
	out := make([]models.Candle, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest candle.
func (h *History) Last() (models.Candle, bool) {
	if h.size == 0 {
		return models.Candle{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

func (h *History) Len() int { return h.size }
func (h *History) Cap() int { return len(h.buf) }

// Reset drops every candle.
func (h *History) Reset() {
	h.start, h.size = 0, 0
}
