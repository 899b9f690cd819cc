package presenter

import (
	"fmt"
	"html"

	"github.com/leveleando/leveleando-tg/internal/application/eventhandler"
	"github.com/leveleando/leveleando-tg/internal/application/query"
)

// LevelUpFormatter собирает поздравление со ссылкой на участника.
// Реализует eventhandler.MessageFormatter.
type LevelUpFormatter struct{}

var _ eventhandler.MessageFormatter = LevelUpFormatter{}

// LevelUp возвращает HTML-текст. Месячный уровень главный; повышение
// исторического уровня в том же начислении дописывается второй строкой.
func (LevelUpFormatter) LevelUp(user eventhandler.UserRef, c eventhandler.Congratulation) string {
	name := truncate(user.Name, maxNameRunes)
	if name == "" {
		name = query.FallbackName(user.ID)
	}
	mention := fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, user.ID.Int64(), html.EscapeString(name))

	if c.Monthly == nil {
		return fmt.Sprintf("🏅 %s alcanzó el nivel histórico %d!", mention, c.Lifetime.NewLevel)
	}
	text := fmt.Sprintf("🎉 %s subió al nivel %d!", mention, c.Monthly.NewLevel)
	if c.Lifetime != nil {
		text += fmt.Sprintf("\n🏅 Nivel histórico: %d", c.Lifetime.NewLevel)
	}
	return text
}
