package presenter

import (
	"fmt"
	"strings"

	"github.com/leveleando/leveleando-tg/internal/application/query"
)

// maxNameRunes ограничивает длину имени в заголовке профиля.
const maxNameRunes = 64

// Profile форматирует ответ на /levperfil. Текст без HTML: имя выводится
// как есть. Позиция "-" означает, что в этом месяце активности не было.
func Profile(name string, p *query.ProfileDTO) string {
	if name = truncate(name, maxNameRunes); name == "" {
		name = query.FallbackName(p.UserID)
	}

	pos := "-"
	if p.Position > 0 {
		pos = fmt.Sprintf("%d", p.Position)
	}

	next := fmt.Sprintf("%d", p.XPToNext)
	threshold := fmt.Sprintf("%d", p.MonthlyThreshold)
	if p.MaxLevel {
		next = "nivel máximo alcanzado"
		threshold = "máx"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", name)
	fmt.Fprintf(&sb, "📊 Mensual: %d/%s XP, Nivel %d, Pos %s/%d\n",
		p.XPMonthly, threshold, p.LevelMonthly, pos, p.Total)
	fmt.Fprintf(&sb, "🏅 Histórico: %d XP, Nivel %d\n", p.XPLifetime, p.LevelLifetime)
	fmt.Fprintf(&sb, "🔜 XP para siguiente nivel: %s", next)
	if p.Top3Count > 0 {
		fmt.Fprintf(&sb, "\n🥇 Meses en el top 3: %d", p.Top3Count)
	}
	return sb.String()
}
