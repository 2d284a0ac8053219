package chatstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/pkg/api"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateChatStartsEmpty(t *testing.T) {
	store := setupTestStore(t)

	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	messages, err := store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	ids, err := store.LoadStreamIDs(chatID, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)

	var saved []api.Message
	for i := 0; i < 5; i++ {
		role := api.RoleUser
		if i%2 == 1 {
			role = api.RoleAssistant
		}
		saved = append(saved, api.TextMessage(fmt.Sprintf("msg-%d", i), role, fmt.Sprintf("message %d", i)))
	}
	require.NoError(t, store.SaveChat(chatID, saved, "user-1"))

	loaded, err := store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestSaveOverwritesTranscript(t *testing.T) {
	store := setupTestStore(t)
	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)

	require.NoError(t, store.SaveChat(chatID, []api.Message{
		api.TextMessage("a", api.RoleUser, "first"),
		api.TextMessage("b", api.RoleAssistant, "second"),
	}, "user-1"))
	require.NoError(t, store.SaveChat(chatID, []api.Message{
		api.TextMessage("c", api.RoleUser, "only"),
	}, "user-1"))

	loaded, err := store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "only", loaded[0].Content)
}

func TestSaveLoadMultimodalMessage(t *testing.T) {
	store := setupTestStore(t)
	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)

	msg := api.Message{
		ID:   "m1",
		Role: api.RoleUser,
		Parts: []api.ContentPart{
			{Type: api.PartTypeText, Text: "Hello"},
			{Type: api.PartTypeImage, Image: "https://x/a.png"},
		},
	}
	require.NoError(t, store.SaveChat(chatID, []api.Message{msg}, "user-1"))

	loaded, err := store.LoadChat(chatID, "user-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, msg.Parts, loaded[0].Parts)
	assert.Empty(t, loaded[0].Content)
}

func TestLoadChatWithoutRecordReturnsEmpty(t *testing.T) {
	store := setupTestStore(t)

	messages, err := store.LoadChat("never-created", "user-1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAppendStreamIDPreservesOrder(t *testing.T) {
	store := setupTestStore(t)
	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)

	var expected []string
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("stream-%d", i)
		expected = append(expected, id)
		require.NoError(t, store.AppendStreamID(chatID, id, "user-1"))
	}

	ids, err := store.LoadStreamIDs(chatID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, expected, ids)
	assert.Equal(t, "stream-3", ids[len(ids)-1])
}

func TestAppendStreamIDWithoutCreate(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.AppendStreamID("implicit-chat", "stream-0", "user-1"))

	ids, err := store.LoadStreamIDs("implicit-chat", "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stream-0"}, ids)
}

func TestStoreIsScopedPerUser(t *testing.T) {
	store := setupTestStore(t)
	chatID, err := store.CreateChat("user-1")
	require.NoError(t, err)

	require.NoError(t, store.SaveChat(chatID, []api.Message{
		api.TextMessage("a", api.RoleUser, "private"),
	}, "user-1"))

	other, err := store.LoadChat(chatID, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
