package presenter

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ТЕКСТЫ БОТА
// Пользователи бота говорят по-испански, поэтому все ответы на испанском.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// AnnouncementText отправляется в каждый настроенный чат при запуске.
	AnnouncementText = "🤖 LeveleandoTG activo."

	StartText = "👋 ¡Hola! Soy LeveleandoTG.\n" +
		"1️⃣ Agrégame como admin en tu grupo.\n" +
		"2️⃣ Usa /levsettema <thread_id> para definir dónde mando alertas.\n" +
		"3️⃣ Usa /levalerta <nivel> <mensaje> para configurar premios.\n" +
		"Cada mes tu XP mensual se reinicia, pero guardo tu total histórico.\n" +
		"Escribe /levcomandos para ver los comandos."

	CommandsText = "📜 Comandos:\n" +
		"/start, /levsettema, /levalerta\n" +
		"/levperfil, /levtop, /levcomandos\n"

	OnlyAdminsText = "❌ Solo administradores."
	NeedThreadText = "❌ /levsettema primero."

	SetThreadUsageText = "❌ Uso: /levsettema <thread_id>\n" +
		"– En Desktop/Web, copia enlace de un mensaje → el número antes del segundo / es el thread_id."

	SetRewardUsageText = "❌ Uso: /levalerta <nivel> <mensaje>"

	ThreadClearedText = "✅ Hilo de alertas eliminado. Las alertas irán al chat principal."

	// ErrorText - общий ответ на непредвиденную ошибку.
	ErrorText = "⚠️ Algo salió mal. Inténtalo de nuevo en un momento."
)

// ThreadConfigured подтверждает выбор ветки.
func ThreadConfigured(threadID int) string {
	return fmt.Sprintf("✅ Hilo configurado: %d", threadID)
}

// RewardConfigured подтверждает сохранение награды.
func RewardConfigured(level int) string {
	return fmt.Sprintf("✅ Premio configurado para nivel %d.", level)
}

// RewardLevelOutOfRange - уровень награды вне 1..maxLevel.
func RewardLevelOutOfRange(maxLevel int) string {
	return fmt.Sprintf("❌ El nivel debe estar entre 1 y %d.", maxLevel)
}

// Command - описание команды для меню Telegram.
type Command struct {
	Name        string
	Description string
}

// Commands - меню команд в порядке показа.
func Commands() []Command {
	return []Command{
		{Name: "start", Description: "Cómo instalar y configurar el bot"},
		{Name: "levsettema", Description: "Configura hilo de alertas de nivel (admin)"},
		{Name: "levalerta", Description: "Define premio por nivel (admin)"},
		{Name: "levperfil", Description: "Muestra XP/nivel mensual y total"},
		{Name: "levtop", Description: "Ranking mensual con paginado"},
		{Name: "levcomandos", Description: "Lista de comandos disponibles"},
	}
}

// truncate режет строку по рунам, добавляя многоточие.
func truncate(s string, limit int) string {
	r := []rune(strings.TrimSpace(s))
	if limit <= 0 || len(r) <= limit {
		return string(r)
	}
	return string(r[:limit-1]) + "…"
}
