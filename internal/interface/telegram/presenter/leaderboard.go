package presenter

import (
	"fmt"
	"html"
	"strings"

	"github.com/leveleando/leveleando-tg/internal/application/query"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD PRESENTER
// Страница рейтинга: заголовок с номером страницы, строки
// "N. Имя — Nivel L, X XP" и кнопки листания.
// ══════════════════════════════════════════════════════════════════════════════

// View - готовое сообщение.
type View struct {
	// Text - текст сообщения (HTML, если HTML=true).
	Text string

	// Keyboard - клавиатура или nil.
	Keyboard *InlineKeyboard

	HTML bool
}

// Leaderboard форматирует страницу рейтинга. Имена экранируются.
func Leaderboard(result *query.GetLeaderboardResult) View {
	var sb strings.Builder

	title := "🏆 Ranking Mensual"
	if result.Track == progress.TrackLifetime {
		title = "🏅 Ranking Histórico"
	}
	fmt.Fprintf(&sb, "%s (página %d/%d):\n", title, result.Page, result.TotalPages)

	if len(result.Entries) == 0 {
		if result.Track == progress.TrackLifetime {
			sb.WriteString("Aún no hay actividad.\n")
		} else {
			sb.WriteString("Aún no hay actividad este mes.\n")
		}
	}
	for _, e := range result.Entries {
		fmt.Fprintf(&sb, "%s%d. %s — Nivel %d, %d XP\n",
			medalPrefix(e.Position),
			e.Position,
			html.EscapeString(e.DisplayName),
			e.Level,
			e.XP,
		)
	}
	if result.Track == progress.TrackMonthly && result.ClosesIn > 0 {
		fmt.Fprintf(&sb, "\n⏳ El mes cierra en %s\n", timeutil.FormatDuration(result.ClosesIn))
	}

	return View{
		Text:     strings.TrimRight(sb.String(), "\n"),
		Keyboard: PaginationKeyboard(result.Page, result.TotalPages),
		HTML:     true,
	}
}

// medalPrefix ставит медаль перед первыми тремя местами.
func medalPrefix(position int) string {
	if m := shared.Medal(position); m != "" {
		return m + " "
	}
	return ""
}
