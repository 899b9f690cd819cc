// Package memory implements the persistence ports in process memory.
// Every operation runs under a single lock, which gives the same atomicity
// as the PostgreSQL transactions: a conditional write and the reads it
// depends on are never interleaved with another writer.
//
// Used by tests, and by `leveleando serve` when DATABASE_URL is unset.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leveleando/leveleando-tg/internal/domain/chat"
	"github.com/leveleando/leveleando-tg/internal/domain/progress"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
)

type rewardKey struct {
	chatID shared.ChatID
	level  int
}

type standingKey struct {
	chatID shared.ChatID
	month  shared.MonthTag
}

// FaultFunc is consulted before every operation; a non-nil result is
// returned instead of running it. op is the method name.
type FaultFunc func(op string) error

// Store keeps progress, chat configuration, rewards, history and rollover
// standings.
type Store struct {
	mu sync.RWMutex

	records   map[progress.Key]progress.Record
	chats     map[shared.ChatID]chat.Config
	rewards   map[rewardKey]chat.Reward
	history   map[progress.Key]chat.HistoryStat
	standings map[standingKey][]chat.Standing

	fault FaultFunc
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:   make(map[progress.Key]progress.Record),
		chats:     make(map[shared.ChatID]chat.Config),
		rewards:   make(map[rewardKey]chat.Reward),
		history:   make(map[progress.Key]chat.HistoryStat),
		standings: make(map[standingKey][]chat.Standing),
		now:       time.Now,
	}
}

// SetFault installs a fault injector. Pass nil to clear it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return shared.WrapError("memory", op, shared.ErrStorageUnavailable, "context done", err)
	}
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return err
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Get implements progress.Repository.
func (s *Store) Get(ctx context.Context, key progress.Key) (progress.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "Get"); err != nil {
		return progress.Record{}, err
	}
	rec, ok := s.records[key]
	if !ok {
		return progress.Record{}, shared.ErrProgressNotFound
	}
	return rec, nil
}

// CompareAndSwap implements progress.Repository.
func (s *Store) CompareAndSwap(ctx context.Context, rec progress.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "CompareAndSwap"); err != nil {
		return err
	}

	key := rec.Key()
	current, exists := s.records[key]
	switch {
	case expectedVersion == 0 && exists:
		return shared.ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return shared.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	rec.UpdatedAt = s.now().UTC()
	s.records[key] = rec
	return nil
}

// Page implements progress.Ranking.
func (s *Store) Page(ctx context.Context, q progress.PageQuery) ([]progress.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "Page"); err != nil {
		return nil, 0, err
	}

	ranked := s.rankedLocked(q.ChatID, q.Track, q.Month)
	total := len(ranked)
	page, _ := progress.ClampPage(q.Page, q.PageSize, total)
	offset := progress.Offset(page, q.PageSize)
	if offset >= total || q.PageSize <= 0 {
		return []progress.Record{}, total, nil
	}
	end := offset + q.PageSize
	if end > total {
		end = total
	}
	out := make([]progress.Record, end-offset)
	copy(out, ranked[offset:end])
	return out, total, nil
}

// Position implements progress.Ranking.
func (s *Store) Position(ctx context.Context, key progress.Key, track progress.Track, month shared.MonthTag) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "Position"); err != nil {
		return 0, 0, err
	}

	ranked := s.rankedLocked(key.ChatID, track, month)
	for i, rec := range ranked {
		if rec.UserID == key.UserID {
			return i + 1, len(ranked), nil
		}
	}
	return 0, len(ranked), nil
}

func (s *Store) rankedLocked(chatID shared.ChatID, track progress.Track, month shared.MonthTag) []progress.Record {
	var out []progress.Record
	for key, rec := range s.records {
		if key.ChatID != chatID {
			continue
		}
		if track == progress.TrackMonthly {
			if rec.MonthTag != month || !rec.HasMonthlyActivity() {
				continue
			}
		} else if rec.XPLifetime == 0 && rec.LevelLifetime == 0 {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return progress.RanksBefore(out[i], out[j], track)
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// GetChat implements chat.Repository.Get.
func (s *Store) GetChat(ctx context.Context, chatID shared.ChatID) (chat.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "GetChat"); err != nil {
		return chat.Config{}, err
	}
	cfg, ok := s.chats[chatID]
	if !ok {
		return chat.Config{}, shared.ErrChatNotConfigured
	}
	return cloneConfig(cfg), nil
}

// ListChats implements chat.Repository.List.
func (s *Store) ListChats(ctx context.Context) ([]chat.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "ListChats"); err != nil {
		return nil, err
	}
	out := make([]chat.Config, 0, len(s.chats))
	for _, cfg := range s.chats {
		out = append(out, cloneConfig(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// Register implements chat.Repository.
func (s *Store) Register(ctx context.Context, cfg chat.Config) (chat.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "Register"); err != nil {
		return chat.Config{}, err
	}
	if existing, ok := s.chats[cfg.ChatID]; ok {
		return cloneConfig(existing), nil
	}
	s.chats[cfg.ChatID] = cloneConfig(cfg)
	return cloneConfig(cfg), nil
}

// SetAlertThread implements chat.Repository.
func (s *Store) SetAlertThread(ctx context.Context, chatID shared.ChatID, thread *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "SetAlertThread"); err != nil {
		return err
	}
	cfg, ok := s.chats[chatID]
	if !ok {
		return shared.ErrChatNotConfigured
	}
	cfg.AlertThread = copyThread(thread)
	cfg.UpdatedAt = s.now().UTC()
	s.chats[chatID] = cfg
	return nil
}

// DeleteChat implements chat.Repository.Delete.
func (s *Store) DeleteChat(ctx context.Context, chatID shared.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "DeleteChat"); err != nil {
		return err
	}
	delete(s.chats, chatID)
	return nil
}

// GetReward implements chat.Repository.
func (s *Store) GetReward(ctx context.Context, chatID shared.ChatID, level int) (chat.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "GetReward"); err != nil {
		return chat.Reward{}, err
	}
	r, ok := s.rewards[rewardKey{chatID, level}]
	if !ok {
		return chat.Reward{}, shared.ErrRewardNotFound
	}
	return r, nil
}

// SetReward implements chat.Repository.
func (s *Store) SetReward(ctx context.Context, reward chat.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "SetReward"); err != nil {
		return err
	}
	s.rewards[rewardKey{reward.ChatID, reward.Level}] = reward
	return nil
}

// GetHistory implements chat.Repository.
func (s *Store) GetHistory(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (chat.HistoryStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "GetHistory"); err != nil {
		return chat.HistoryStat{}, err
	}
	h, ok := s.history[progress.Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return chat.HistoryStat{ChatID: chatID, UserID: userID}, nil
	}
	return h, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLLOVER
// ══════════════════════════════════════════════════════════════════════════════

// ClaimRollover implements chat.RolloverStore.
func (s *Store) ClaimRollover(ctx context.Context, chatID shared.ChatID, observed, next shared.MonthTag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "ClaimRollover"); err != nil {
		return false, err
	}
	cfg, ok := s.chats[chatID]
	if !ok {
		return false, shared.ErrChatNotConfigured
	}
	if cfg.LastRolloverMonth != observed {
		return false, nil
	}

	var closing []progress.Record
	for key, rec := range s.records {
		if key.ChatID == chatID && rec.MonthTag == observed && rec.HasMonthlyActivity() {
			closing = append(closing, rec)
		}
	}
	sort.Slice(closing, func(i, j int) bool {
		return progress.RanksBefore(closing[i], closing[j], progress.TrackMonthly)
	})
	if len(closing) > chat.TopN {
		closing = closing[:chat.TopN]
	}

	standings := make([]chat.Standing, 0, len(closing))
	for i, rec := range closing {
		standings = append(standings, chat.Standing{
			ChatID:        chatID,
			RolloverMonth: next,
			UserID:        rec.UserID,
			Position:      i + 1,
			Level:         rec.LevelMonthly,
			XP:            rec.XPMonthly,
		})
	}

	cfg.LastRolloverMonth = next
	cfg.MonthsElapsed++
	cfg.UpdatedAt = s.now().UTC()
	s.chats[chatID] = cfg
	s.standings[standingKey{chatID, next}] = standings
	return true, nil
}

// CreditStandings implements chat.RolloverStore.
func (s *Store) CreditStandings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "CreditStandings"); err != nil {
		return 0, err
	}
	key := standingKey{chatID, month}
	standings := s.standings[key]
	credited := 0
	for i := range standings {
		if standings[i].Credited {
			continue
		}
		standings[i].Credited = true
		hk := progress.Key{ChatID: chatID, UserID: standings[i].UserID}
		h := s.history[hk]
		h.ChatID, h.UserID = chatID, standings[i].UserID
		h.Top3Count++
		s.history[hk] = h
		credited++
	}
	return credited, nil
}

// ResetMonthly implements chat.RolloverStore.
func (s *Store) ResetMonthly(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "ResetMonthly"); err != nil {
		return 0, err
	}
	var n int64
	for key, rec := range s.records {
		if key.ChatID != chatID || !rec.MonthTag.Before(month) {
			continue
		}
		rec.XPMonthly, rec.LevelMonthly = 0, 0
		rec.MonthTag = month
		rec.Version++
		rec.UpdatedAt = s.now().UTC()
		s.records[key] = rec
		n++
	}
	return n, nil
}

// CompleteRollover implements chat.RolloverStore.
func (s *Store) CompleteRollover(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "CompleteRollover"); err != nil {
		return err
	}
	cfg, ok := s.chats[chatID]
	if !ok {
		return shared.ErrChatNotConfigured
	}
	cfg.CompletedRolloverMonth = month
	cfg.UpdatedAt = s.now().UTC()
	s.chats[chatID] = cfg
	return nil
}

// Standings implements chat.RolloverStore.
func (s *Store) Standings(ctx context.Context, chatID shared.ChatID, month shared.MonthTag) ([]chat.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx, "Standings"); err != nil {
		return nil, err
	}
	src := s.standings[standingKey{chatID, month}]
	out := make([]chat.Standing, len(src))
	copy(out, src)
	return out, nil
}

func cloneConfig(cfg chat.Config) chat.Config {
	cfg.AlertThread = copyThread(cfg.AlertThread)
	return cfg
}

func copyThread(thread *int) *int {
	if thread == nil {
		return nil
	}
	v := *thread
	return &v
}

// ══════════════════════════════════════════════════════════════════════════════
// PORT VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// Chats returns the store as a chat.Repository.
func (s *Store) Chats() chat.Repository {
	return chatView{s}
}

type chatView struct {
	s *Store
}

func (v chatView) Get(ctx context.Context, chatID shared.ChatID) (chat.Config, error) {
	return v.s.GetChat(ctx, chatID)
}

func (v chatView) List(ctx context.Context) ([]chat.Config, error) {
	return v.s.ListChats(ctx)
}

func (v chatView) Register(ctx context.Context, cfg chat.Config) (chat.Config, error) {
	return v.s.Register(ctx, cfg)
}

func (v chatView) SetAlertThread(ctx context.Context, chatID shared.ChatID, thread *int) error {
	return v.s.SetAlertThread(ctx, chatID, thread)
}

func (v chatView) Delete(ctx context.Context, chatID shared.ChatID) error {
	return v.s.DeleteChat(ctx, chatID)
}

func (v chatView) GetReward(ctx context.Context, chatID shared.ChatID, level int) (chat.Reward, error) {
	return v.s.GetReward(ctx, chatID, level)
}

func (v chatView) SetReward(ctx context.Context, reward chat.Reward) error {
	return v.s.SetReward(ctx, reward)
}

func (v chatView) GetHistory(ctx context.Context, chatID shared.ChatID, userID shared.UserID) (chat.HistoryStat, error) {
	return v.s.GetHistory(ctx, chatID, userID)
}

var (
	_ progress.Repository = (*Store)(nil)
	_ progress.Ranking    = (*Store)(nil)
	_ chat.RolloverStore  = (*Store)(nil)
	_ chat.Repository     = chatView{}
)
