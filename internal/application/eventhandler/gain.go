package eventhandler

import (
	"fmt"
	"math/rand/v2"
)

// GainRoller выбирает, сколько XP начислить за одно сообщение.
type GainRoller interface {
	Roll(hasMedia bool) int
}

// GainRange - равномерные диапазоны для текста и медиа (границы включены).
type GainRange struct {
	TextMin  int
	TextMax  int
	MediaMin int
	MediaMax int
}

// DefaultGainRange: 7..10 за текст, 30..50 за фото и прочие медиа.
func DefaultGainRange() GainRange {
	return GainRange{TextMin: 7, TextMax: 10, MediaMin: 30, MediaMax: 50}
}

// Validate проверяет диапазоны.
func (g GainRange) Validate() error {
	if g.TextMin < 0 || g.TextMax < g.TextMin {
		return fmt.Errorf("text gain range [%d, %d] is invalid", g.TextMin, g.TextMax)
	}
	if g.MediaMin < 0 || g.MediaMax < g.MediaMin {
		return fmt.Errorf("media gain range [%d, %d] is invalid", g.MediaMin, g.MediaMax)
	}
	return nil
}

// Roll implements GainRoller using the global math/rand/v2 source,
// which is safe for concurrent use.
func (g GainRange) Roll(hasMedia bool) int {
	if hasMedia {
		return g.MediaMin + rand.IntN(g.MediaMax-g.MediaMin+1)
	}
	return g.TextMin + rand.IntN(g.TextMax-g.TextMin+1)
}

// FixedGain всегда возвращает одно и то же значение. Для тестов.
type FixedGain int

// Roll implements GainRoller.
func (f FixedGain) Roll(bool) int {
	return int(f)
}
