package progress

import (
	"context"

	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

// Repository - хранилище записей прогресса.
type Repository interface {
	// Get возвращает запись или ErrProgressNotFound.
	Get(ctx context.Context, key Key) (Record, error)

	// CompareAndSwap сохраняет rec, если версия в хранилище равна expectedVersion.
	// expectedVersion == 0 означает "вставить, если записи нет".
	// При несовпадении возвращает ErrVersionConflict. Сохранённая запись
	// получает версию expectedVersion+1.
	CompareAndSwap(ctx context.Context, rec Record, expectedVersion int64) error
}

// PageQuery - параметры чтения страницы рейтинга.
type PageQuery struct {
	ChatID shared.ChatID
	Track  Track

	// Month ограничивает месячный трек записями текущего месяца.
	Month shared.MonthTag

	// Page - номер страницы с 1; хранилище ограничивает его диапазоном
	// [1, TotalPages] по числу участников из того же снимка.
	Page     int
	PageSize int
}

// ClampPage приводит номер страницы к [1, totalPages] и возвращает оба значения.
// Пустой рейтинг состоит из одной пустой страницы.
func ClampPage(page, pageSize, total int) (clamped, totalPages int) {
	if pageSize <= 0 {
		pageSize = 1
	}
	totalPages = (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	clamped = page
	if clamped < 1 {
		clamped = 1
	}
	if clamped > totalPages {
		clamped = totalPages
	}
	return clamped, totalPages
}

// Offset возвращает смещение первой записи страницы.
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// Ranking - чтение рейтинга.
type Ranking interface {
	// Page возвращает страницу (номер уже ограничен) и общее число
	// участников, прочитанные из одного снимка данных.
	Page(ctx context.Context, q PageQuery) (entries []Record, total int, err error)

	// Position возвращает место записи (с 1) и общее число участников.
	// Место 0 - пользователь не участвует в рейтинге трека.
	Position(ctx context.Context, key Key, track Track, month shared.MonthTag) (position, total int, err error)
}
