// Package progress описывает запись опыта пользователя в чате: два
// независимых трека (месячный и исторический), каждый со своим XP и уровнем.
package progress

import (
	"fmt"
	"time"

	"github.com/leveleando/leveleando-tg/internal/domain/leveling"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK
// ══════════════════════════════════════════════════════════════════════════════

// Track - трек прогресса.
type Track string

const (
	// TrackMonthly сбрасывается каждый месяц.
	TrackMonthly Track = "monthly"

	// TrackLifetime никогда не сбрасывается.
	TrackLifetime Track = "lifetime"
)

// IsValid проверяет трек.
func (t Track) IsValid() bool {
	return t == TrackMonthly || t == TrackLifetime
}

// String returns the string representation.
func (t Track) String() string {
	return string(t)
}

// ParseTrack разбирает имя трека.
func ParseTrack(s string) (Track, error) {
	t := Track(s)
	if !t.IsValid() {
		return "", shared.NewDomainError("progress", "ParseTrack", shared.ErrInvalidInput,
			fmt.Sprintf("unknown track %q", s))
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY
// ══════════════════════════════════════════════════════════════════════════════

// Key - составной ключ записи.
type Key struct {
	ChatID shared.ChatID `json:"chat_id"`
	UserID shared.UserID `json:"user_id"`
}

// String возвращает ключ в формате "<chat>_<user>".
func (k Key) String() string {
	return k.ChatID.String() + "_" + k.UserID.String()
}

// Less задаёт детерминированный порядок ключей: сначала чат, затем пользователь.
func (k Key) Less(other Key) bool {
	if k.ChatID != other.ChatID {
		return k.ChatID < other.ChatID
	}
	return k.UserID < other.UserID
}

// Validate проверяет обе части ключа.
func (k Key) Validate() error {
	if !k.ChatID.IsValid() {
		return shared.NewDomainError("progress", "Key.Validate", shared.ErrInvalidInput, "chat id is required")
	}
	if !k.UserID.IsValid() {
		return shared.NewDomainError("progress", "Key.Validate", shared.ErrInvalidInput, "user id must be positive")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - прогресс одного пользователя в одном чате.
type Record struct {
	ChatID shared.ChatID `json:"chat_id"`
	UserID shared.UserID `json:"user_id"`

	// XPMonthly, LevelMonthly - месячный трек.
	XPMonthly    int `json:"xp_monthly"`
	LevelMonthly int `json:"level_monthly"`

	// XPLifetime, LevelLifetime - исторический трек.
	XPLifetime    int `json:"xp_lifetime"`
	LevelLifetime int `json:"level_lifetime"`

	// MonthTag - месяц, к которому относится месячный трек.
	MonthTag shared.MonthTag `json:"month_tag"`

	// Version растёт при каждой записи; 0 - запись ещё не сохранена.
	Version int64 `json:"version"`

	// LastEventID - последнее применённое событие активности.
	LastEventID string `json:"last_event_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord создаёт пустую запись для ключа.
func NewRecord(key Key, month shared.MonthTag) Record {
	return Record{
		ChatID:   key.ChatID,
		UserID:   key.UserID,
		MonthTag: month,
	}
}

// Key возвращает ключ записи.
func (r Record) Key() Key {
	return Key{ChatID: r.ChatID, UserID: r.UserID}
}

// IsNew - запись ещё не сохранялась.
func (r Record) IsNew() bool {
	return r.Version == 0
}

// XP возвращает XP на треке.
func (r Record) XP(track Track) int {
	if track == TrackLifetime {
		return r.XPLifetime
	}
	return r.XPMonthly
}

// Level возвращает уровень на треке.
func (r Record) Level(track Track) int {
	if track == TrackLifetime {
		return r.LevelLifetime
	}
	return r.LevelMonthly
}

// HasMonthlyActivity - в текущем месяце что-то начислено.
func (r Record) HasMonthlyActivity() bool {
	return r.XPMonthly > 0 || r.LevelMonthly > 0
}

// NormalizeMonth обнуляет месячный трек, если запись относится к прошлому месяцу.
func (r Record) NormalizeMonth(month shared.MonthTag) Record {
	if r.MonthTag.Before(month) {
		r.XPMonthly = 0
		r.LevelMonthly = 0
		r.MonthTag = month
	}
	return r
}

// Validate проверяет инвариант хранения на обоих треках.
func (r Record) Validate(l *leveling.Leveler) error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	if !r.MonthTag.IsValid() {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvariantViolation,
			fmt.Sprintf("bad month tag %q", r.MonthTag))
	}
	if err := l.CheckAtRest(r.XPMonthly, r.LevelMonthly); err != nil {
		return shared.WrapError("progress", "Validate", shared.ErrInvariantViolation, "monthly track", err)
	}
	if err := l.CheckAtRest(r.XPLifetime, r.LevelLifetime); err != nil {
		return shared.WrapError("progress", "Validate", shared.ErrInvariantViolation, "lifetime track", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GAIN
// ══════════════════════════════════════════════════════════════════════════════

// LevelUpEvent - трек поднялся на новый уровень в результате одного начисления.
type LevelUpEvent struct {
	Track        Track `json:"track"`
	NewLevel     int   `json:"new_level"`
	LevelsGained int   `json:"levels_gained"`
}

// FirstLevel возвращает первый уровень, пройденный в этом начислении.
func (e LevelUpEvent) FirstLevel() int {
	return e.NewLevel - e.LevelsGained + 1
}

// ApplyGain начисляет amount на оба трека и возвращает новую запись и события
// повышения. Исходная запись не меняется.
func (r Record) ApplyGain(l *leveling.Leveler, amount int, month shared.MonthTag) (Record, []LevelUpEvent, error) {
	if amount < 0 {
		return r, nil, shared.ErrNegativeGain
	}

	next := r.NormalizeMonth(month)
	var events []LevelUpEvent

	xp, level, gained := l.AdvanceIfEligible(next.XPMonthly+amount, next.LevelMonthly)
	next.XPMonthly, next.LevelMonthly = xp, level
	if gained > 0 {
		events = append(events, LevelUpEvent{Track: TrackMonthly, NewLevel: level, LevelsGained: gained})
	}

	xp, level, gained = l.AdvanceIfEligible(next.XPLifetime+amount, next.LevelLifetime)
	next.XPLifetime, next.LevelLifetime = xp, level
	if gained > 0 {
		events = append(events, LevelUpEvent{Track: TrackLifetime, NewLevel: level, LevelsGained: gained})
	}

	if err := next.Validate(l); err != nil {
		return r, nil, err
	}
	return next, events, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ORDERING
// ══════════════════════════════════════════════════════════════════════════════

// RanksBefore сравнивает записи по треку: уровень по убыванию, XP по убыванию,
// затем ключ по возрастанию.
func RanksBefore(a, b Record, track Track) bool {
	if a.Level(track) != b.Level(track) {
		return a.Level(track) > b.Level(track)
	}
	if a.XP(track) != b.XP(track) {
		return a.XP(track) > b.XP(track)
	}
	return a.Key().Less(b.Key())
}
