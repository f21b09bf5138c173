package llm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidmrtz/parley/internal/db"
	"github.com/davidmrtz/parley/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

func newTestService(t *testing.T, mock *MockModel) (*Service, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewWithModel(mock, database), database
}

func seedChat(t *testing.T, database *db.Database, persona, userText string) *models.Chat {
	t.Helper()

	var roleID *int64
	if persona != "" {
		role, err := database.CreateRole("persona", persona)
		require.NoError(t, err)
		roleID = &role.ID
	}

	chat, err := database.CreateChat("test chat", roleID)
	require.NoError(t, err)
	require.NoError(t, database.SaveMessage(&models.Message{
		ChatID:  chat.ID,
		Role:    "user",
		Content: userText,
	}))
	return chat
}

func TestReplyPersistsAssistantMessage(t *testing.T) {
	mock := NewMockModel("Try a simple risotto.")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "You are a professional chef.", "What's a good recipe?")

	reply, err := svc.Reply(context.Background(), chat.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "Try a simple risotto.", reply.Content)

	messages, err := database.GetMessages(chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestReplySendsPersonaAsSystemMessage(t *testing.T) {
	mock := NewMockModel("ok")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "You are a professional chef.", "hi")

	_, err := svc.Reply(context.Background(), chat.ID, "", "")
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	sent := mock.Calls[0]
	require.Len(t, sent, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, sent[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, sent[1].Role)
}

func TestReplyWithoutPersonaOmitsSystemMessage(t *testing.T) {
	mock := NewMockModel("ok")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "", "hi")

	_, err := svc.Reply(context.Background(), chat.ID, "", "")
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	require.Len(t, mock.Calls[0], 1)
	assert.Equal(t, schema.ChatMessageTypeHuman, mock.Calls[0][0].Role)
}

func TestReplyFailureLeavesHistoryUntouched(t *testing.T) {
	mock := NewMockModel("")
	mock.Err = errors.New("upstream unavailable")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "", "hello?")

	_, err := svc.Reply(context.Background(), chat.ID, "", "")
	require.Error(t, err)

	messages, err := database.GetMessages(chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}

func TestReplyRejectsImageForTextModel(t *testing.T) {
	mock := NewMockModel("ok")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "", "look at this")

	_, err := svc.Reply(context.Background(), chat.ID, "deepseek_v3", "data:image/png;base64,AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not accept images")
	assert.Empty(t, mock.Calls)
}

func TestReplyAttachesImageForVisionModel(t *testing.T) {
	mock := NewMockModel("a cat")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "", "what is this?")

	_, err := svc.Reply(context.Background(), chat.ID, "gemini_flash", "data:image/png;base64,AAAA")
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	last := mock.Calls[0][len(mock.Calls[0])-1]
	require.Len(t, last.Parts, 2)
	_, ok := last.Parts[1].(llms.ImageURLContent)
	assert.True(t, ok, "expected an image part on the final turn")
}

func TestReplyUnknownModel(t *testing.T) {
	mock := NewMockModel("ok")
	svc, database := newTestService(t, mock)
	chat := seedChat(t, database, "", "hi")

	_, err := svc.Reply(context.Background(), chat.ID, "gpt9000", "")
	require.Error(t, err)
}

func TestReplyUnknownChat(t *testing.T) {
	mock := NewMockModel("ok")
	svc, _ := newTestService(t, mock)

	_, err := svc.Reply(context.Background(), 999, "", "")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTrimHistoryKeepsNewestWithinBudget(t *testing.T) {
	svc := &Service{}

	long := strings.Repeat("word ", historyTokenBudget) // well over budget on its own
	history := []models.Message{
		{Role: "user", Content: long},
		{Role: "assistant", Content: "short"},
		{Role: "user", Content: "latest"},
	}

	trimmed := svc.trimHistory(history)
	require.NotEmpty(t, trimmed)
	assert.Equal(t, "latest", trimmed[len(trimmed)-1].Content)
	assert.Less(t, len(trimmed), len(history))
}

func TestTrimHistoryKeepsFinalTurnEvenIfOversized(t *testing.T) {
	svc := &Service{}

	history := []models.Message{
		{Role: "user", Content: strings.Repeat("word ", historyTokenBudget)},
	}

	trimmed := svc.trimHistory(history)
	require.Len(t, trimmed, 1)
}

func TestLookupModel(t *testing.T) {
	m, err := LookupModel("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelKey(), m.Key)

	m, err = LookupModel("gemini_flash")
	require.NoError(t, err)
	assert.True(t, m.Vision)

	_, err = LookupModel("nope")
	require.Error(t, err)
}
