package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leveleando/leveleando-tg/config"
	"github.com/leveleando/leveleando-tg/internal/application/command"
	"github.com/leveleando/leveleando-tg/internal/domain/shared"
	"github.com/leveleando/leveleando-tg/pkg/logger"
)

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	environ := map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"}
	for k, v := range extra {
		environ[k] = v
	}
	cfg, err := config.Parse(environ)
	require.NoError(t, err)
	return cfg
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "rollover"})

	rollover, _, err := root.Find([]string{"rollover"})
	require.NoError(t, err)
	assert.NotNil(t, rollover.Flags().Lookup("chat"))
}

func TestNewLeveler(t *testing.T) {
	cfg := testConfig(t, nil)
	l, err := newLeveler(cfg.Leveling)
	require.NoError(t, err)
	assert.Equal(t, 93, l.Threshold(0))
	assert.Equal(t, 100, l.Threshold(1))
	assert.True(t, l.Chains())

	cfg = testConfig(t, map[string]string{
		"LEVELING_POLICY":          "table",
		"LEVELING_TABLE":           "10,20,30",
		"LEVELING_MAX_LEVEL":       "5",
		"LEVELING_CHAIN_LEVEL_UPS": "false",
	})
	l, err = newLeveler(cfg.Leveling)
	require.NoError(t, err)
	assert.Equal(t, 30, l.Threshold(4))
	assert.Equal(t, 5, l.MaxLevel())
	assert.False(t, l.Chains())

	cfg = testConfig(t, map[string]string{"LEVELING_POLICY": "cubic"})
	_, err = newLeveler(cfg.Leveling)
	assert.Error(t, err)
}

func TestGainRange(t *testing.T) {
	cfg := testConfig(t, nil)
	g, err := gainRange(cfg.Activity)
	require.NoError(t, err)
	assert.Equal(t, 7, g.TextMin)
	assert.Equal(t, 50, g.MediaMax)
}

func TestRunMigrate_RequiresDatabase(t *testing.T) {
	cfg := testConfig(t, nil)
	err := runMigrate(context.Background(), cfg, &bytes.Buffer{}, migrateUp)
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestMigrateCmd_RejectsStatusWithDown(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"migrate", "--status", "--down"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRunRollover_InMemory(t *testing.T) {
	logger.New("error", "text")
	cfg := testConfig(t, nil)

	var out bytes.Buffer
	require.NoError(t, runRollover(context.Background(), cfg, &out, 0))
	assert.Equal(t, "rolled over 0 chat(s), 0 failed\n", out.String())

	err := runRollover(context.Background(), cfg, &out, -100)
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestChatDirectory(t *testing.T) {
	cfg := testConfig(t, nil)
	st, err := openStorage(context.Background(), cfg, logger.Discard(), false)
	require.NoError(t, err)
	defer st.Close()

	c, err := newCore(cfg, st, logger.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	thread := 7
	_, err = c.configure.SetAlertThread(ctx, command.SetAlertThreadCommand{ChatID: -100, Thread: &thread})
	require.NoError(t, err)

	dir := chatDirectory{chats: st.chats, configure: c.configure}
	chats, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, shared.ChatID(-100), chats[0].ChatID)

	require.NoError(t, dir.RemoveChat(ctx, -100))
	chats, err = dir.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, chats)
}
