package leveling

import (
	"fmt"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// Leveler применяет Policy к паре (xp, level).
type Leveler struct {
	policy   Policy
	maxLevel int
	chain    bool
}

// Option настраивает Leveler.
type Option func(*Leveler)

// WithMaxLevel задаёт потолок уровня.
func WithMaxLevel(max int) Option {
	return func(l *Leveler) {
		l.maxLevel = max
	}
}

// WithSingleStep ограничивает депозит одним повышением за раз.
func WithSingleStep() Option {
	return func(l *Leveler) {
		l.chain = false
	}
}

// WithChain включает или выключает цепочку повышений.
func WithChain(enabled bool) Option {
	return func(l *Leveler) {
		l.chain = enabled
	}
}

// NewLeveler создаёт Leveler и проверяет политику.
func NewLeveler(policy Policy, opts ...Option) (*Leveler, error) {
	l := &Leveler{
		policy:   policy,
		maxLevel: DefaultMaxLevel,
		chain:    true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxLevel <= 0 {
		return nil, shared.NewDomainError("leveling", "NewLeveler", shared.ErrValueOutOfRange, "max level must be positive")
	}
	if err := ValidatePolicy(policy, l.maxLevel); err != nil {
		return nil, err
	}
	return l, nil
}

// MustLeveler как NewLeveler, но паникует при ошибке. Для тестов и констант.
func MustLeveler(policy Policy, opts ...Option) *Leveler {
	l, err := NewLeveler(policy, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Default возвращает линейную политику бота с потолком 100.
func Default() *Leveler {
	return MustLeveler(DefaultLinear())
}

// MaxLevel возвращает потолок уровня.
func (l *Leveler) MaxLevel() int { return l.maxLevel }

// Policy возвращает текущую стратегию.
func (l *Leveler) Policy() Policy { return l.policy }

// Chains сообщает, разрешены ли цепочки повышений.
func (l *Leveler) Chains() bool { return l.chain }

// Threshold возвращает порог для уровня. На потолке порога нет (0).
func (l *Leveler) Threshold(level int) int {
	if level >= l.maxLevel {
		return 0
	}
	return l.policy.ThresholdToAdvance(level)
}

// AdvanceIfEligible вычитает пороги и повышает уровень, пока xp хватает
// и потолок не достигнут. На потолке излишек XP сгорает.
func (l *Leveler) AdvanceIfEligible(xp, level int) (newXP, newLevel, levelsGained int) {
	newXP, newLevel = xp, level

	for newLevel < l.maxLevel {
		threshold := l.policy.ThresholdToAdvance(newLevel)
		if newXP < threshold {
			break
		}
		newXP -= threshold
		newLevel++
		levelsGained++

		if !l.chain {
			if newLevel < l.maxLevel {
				if next := l.policy.ThresholdToAdvance(newLevel); newXP >= next {
					newXP = next - 1
				}
			}
			break
		}
	}

	if newLevel >= l.maxLevel {
		newXP = 0
	}
	return newXP, newLevel, levelsGained
}

// XPToNext возвращает, сколько XP не хватает до следующего уровня.
// На потолке возвращает 0.
func (l *Leveler) XPToNext(xp, level int) int {
	if level >= l.maxLevel {
		return 0
	}
	missing := l.policy.ThresholdToAdvance(level) - xp
	if missing < 0 {
		return 0
	}
	return missing
}

// CheckAtRest проверяет инвариант хранения: 0 ≤ xp < Threshold(level),
// 0 ≤ level ≤ MaxLevel, на потолке xp = 0.
func (l *Leveler) CheckAtRest(xp, level int) error {
	switch {
	case xp < 0:
		return shared.NewDomainError("leveling", "CheckAtRest", shared.ErrInvariantViolation,
			fmt.Sprintf("negative xp %d", xp))
	case level < 0 || level > l.maxLevel:
		return shared.NewDomainError("leveling", "CheckAtRest", shared.ErrInvariantViolation,
			fmt.Sprintf("level %d outside [0, %d]", level, l.maxLevel))
	case level == l.maxLevel && xp != 0:
		return shared.NewDomainError("leveling", "CheckAtRest", shared.ErrInvariantViolation,
			fmt.Sprintf("xp %d recorded at max level", xp))
	case level < l.maxLevel && xp >= l.policy.ThresholdToAdvance(level):
		return shared.NewDomainError("leveling", "CheckAtRest", shared.ErrInvariantViolation,
			fmt.Sprintf("xp %d not below threshold %d at level %d", xp, l.policy.ThresholdToAdvance(level), level))
	}
	return nil
}
