// Package leveling содержит чистую логику уровней: сколько XP нужно для
// перехода на следующий уровень и как депозит XP превращается в повышения.
// Пакет не знает ни о хранилище, ни о чатах.
package leveling

import (
	"fmt"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// DefaultMaxLevel - максимальный уровень на любом треке.
const DefaultMaxLevel = 100

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy определяет стоимость перехода с уровня на следующий.
// Реализации обязаны быть детерминированными и неубывающими на [0, MaxLevel).
type Policy interface {
	// ThresholdToAdvance возвращает XP, необходимый для перехода с level на level+1.
	ThresholdToAdvance(level int) int

	// Name возвращает имя стратегии для логов и конфигурации.
	Name() string
}

// Linear - формула Base + Step*(level-1).
// С Base=100 и Step=7 даёт 93, 100, 107, 114... для уровней 0, 1, 2, 3...
type Linear struct {
	Base int
	Step int
}

// DefaultLinear возвращает стандартную формулу бота.
func DefaultLinear() Linear {
	return Linear{Base: 100, Step: 7}
}

// ThresholdToAdvance implements Policy.
func (p Linear) ThresholdToAdvance(level int) int {
	return p.Base + p.Step*(level-1)
}

// Name implements Policy.
func (p Linear) Name() string { return "linear" }

// Quadratic - формула Base + Factor*level².
type Quadratic struct {
	Base   int
	Factor int
}

// ThresholdToAdvance implements Policy.
func (p Quadratic) ThresholdToAdvance(level int) int {
	return p.Base + p.Factor*level*level
}

// Name implements Policy.
func (p Quadratic) Name() string { return "quadratic" }

// Table - явная таблица порогов. Уровни за пределами таблицы
// используют последнее значение.
type Table struct {
	Thresholds []int
}

// ThresholdToAdvance implements Policy.
func (p Table) ThresholdToAdvance(level int) int {
	if len(p.Thresholds) == 0 {
		return 0
	}
	if level < 0 {
		level = 0
	}
	if level >= len(p.Thresholds) {
		return p.Thresholds[len(p.Thresholds)-1]
	}
	return p.Thresholds[level]
}

// Name implements Policy.
func (p Table) Name() string { return "table" }

// PolicyByName собирает стратегию по имени из конфигурации.
func PolicyByName(name string, base, step int, table []int) (Policy, error) {
	switch name {
	case "", "linear":
		return Linear{Base: base, Step: step}, nil
	case "quadratic":
		return Quadratic{Base: base, Factor: step}, nil
	case "table":
		if len(table) == 0 {
			return nil, shared.NewDomainError("leveling", "PolicyByName", shared.ErrInvalidInput, "table policy requires thresholds")
		}
		cp := make([]int, len(table))
		copy(cp, table)
		return Table{Thresholds: cp}, nil
	default:
		return nil, shared.NewDomainError("leveling", "PolicyByName", shared.ErrInvalidInput,
			fmt.Sprintf("unknown leveling policy %q", name))
	}
}

// ValidatePolicy проверяет, что пороги положительны и не убывают на [0, maxLevel).
// Нулевой порог сделал бы цепочку повышений бесконечной.
func ValidatePolicy(p Policy, maxLevel int) error {
	if p == nil {
		return shared.NewDomainError("leveling", "ValidatePolicy", shared.ErrInvalidInput, "policy is nil")
	}
	prev := 0
	for level := 0; level < maxLevel; level++ {
		t := p.ThresholdToAdvance(level)
		if t <= 0 {
			return shared.NewDomainError("leveling", "ValidatePolicy", shared.ErrValueOutOfRange,
				fmt.Sprintf("%s threshold for level %d is %d, must be positive", p.Name(), level, t))
		}
		if t < prev {
			return shared.NewDomainError("leveling", "ValidatePolicy", shared.ErrValueOutOfRange,
				fmt.Sprintf("%s threshold decreases at level %d (%d < %d)", p.Name(), level, t, prev))
		}
		prev = t
	}
	return nil
}
