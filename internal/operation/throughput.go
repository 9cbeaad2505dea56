package operation

import "time"

// emaMeter сглаживает мгновенную скорость записи экспоненциальным
// скользящим средним по последним N отсчётам
type emaMeter struct {
	alpha  float64
	window int

	times []time.Time
	bytes []uint64

	value  float64
	primed bool
}

func newEMAMeter(alpha float64, window int) *emaMeter {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if window <= 0 {
		window = 8
	}
	return &emaMeter{alpha: alpha, window: window}
}

// Add принимает кумулятивное число записанных байт на момент t
func (m *emaMeter) Add(total uint64, t time.Time) {
	m.times = append(m.times, t)
	m.bytes = append(m.bytes, total)
	if len(m.times) > m.window {
		m.times = m.times[1:]
		m.bytes = m.bytes[1:]
	}

	if len(m.times) < 2 {
		return
	}

	elapsed := m.times[len(m.times)-1].Sub(m.times[0]).Seconds()
	if elapsed <= 0 {
		return
	}
	delta := m.bytes[len(m.bytes)-1] - m.bytes[0]
	rate := float64(delta) / elapsed

	if !m.primed {
		m.value = rate
		m.primed = true
		return
	}
	m.value = m.alpha*rate + (1-m.alpha)*m.value
}

// Value текущая сглаженная скорость в байтах в секунду
func (m *emaMeter) Value() float64 {
	return m.value
}
