package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	return store, tempDir
}

func TestStore_Create(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	err := store.Create("test-conversation")
	assert.NoError(t, err)

	// Creating again should succeed
	err = store.Create("test-conversation")
	assert.NoError(t, err)
}

func TestStore_ValidateKey(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "test-conversation", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/conversation", true},
		{"backslash", "test\\conversation", true},
		{"null byte", "test\x00conversation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.validateKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_Append(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	turn := Turn{
		Kind:      KindUser,
		Content:   "What is the volatility of ES?",
		Timestamp: time.Now(),
	}

	err := store.Append("test-conversation", turn)
	assert.NoError(t, err)

	// Verify file exists
	transcriptPath := store.path("test-conversation")
	_, err = os.Stat(transcriptPath)
	assert.NoError(t, err)
}

func TestStore_AppendValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	err := store.Append("test-conversation", Turn{Content: "no kind"})
	assert.Error(t, err)

	err = store.Append("test-conversation", Turn{Kind: KindUser})
	assert.Error(t, err)

	// Assistant turns carrying only tool calls have no text
	err = store.Append("test-conversation", Turn{
		Kind: KindAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "calculate_volatility", Arguments: "{}"},
		},
	})
	assert.NoError(t, err)
}

func TestStore_Load(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	turns := []Turn{
		{Kind: KindUser, Content: "Turn 1", Timestamp: time.Now()},
		{Kind: KindAssistant, Content: "Turn 2", Timestamp: time.Now()},
		{Kind: KindUser, Content: "Turn 3", Timestamp: time.Now()},
	}

	for _, turn := range turns {
		err := store.Append("test-conversation", turn)
		require.NoError(t, err)
	}

	entries, err := store.Load("test-conversation")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(entries))

	for i, entry := range entries {
		assert.Equal(t, "test-conversation", entry.ConversationKey)
		assert.Equal(t, turns[i].Kind, entry.Turn.Kind)
		assert.Equal(t, turns[i].Content, entry.Turn.Content)
	}
}

func TestStore_LoadRoundTripsToolCalls(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	err := store.Append("test-conversation", Turn{
		Kind: KindAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "calculate_volatility", Arguments: `{"asset":"ES"}`},
		},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	err = store.Append("test-conversation", Turn{
		Kind:       KindToolResult,
		Content:    "Tool execution summary:\nTool Result (parsed dict): {}",
		ToolCallID: "call_1",
		ToolName:   "calculate_volatility",
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)

	entries, err := store.Load("test-conversation")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Len(t, entries[0].Turn.ToolCalls, 1)
	assert.Equal(t, "call_1", entries[0].Turn.ToolCalls[0].ID)
	assert.Equal(t, "calculate_volatility", entries[0].Turn.ToolCalls[0].Name)
	assert.Equal(t, `{"asset":"ES"}`, entries[0].Turn.ToolCalls[0].Arguments)

	assert.Equal(t, "call_1", entries[1].Turn.ToolCallID)
	assert.Equal(t, "calculate_volatility", entries[1].Turn.ToolName)
}

func TestStore_LoadNonExistent(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	entries, err := store.Load("non-existent")
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_LoadSkipsCorruptLines(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()

	transcriptPath := filepath.Join(tempDir, "test-conversation.jsonl")
	content := `{"conversationKey":"test-conversation","turn":{"kind":"user","content":"Valid 1","timestamp":"2024-01-01T00:00:00Z"}}
invalid json line
{"conversationKey":"test-conversation","turn":{"kind":"assistant","content":"Valid 2","timestamp":"2024-01-01T00:00:01Z"}}
{"invalid":"entry"}
`
	err := os.WriteFile(transcriptPath, []byte(content), 0600)
	require.NoError(t, err)

	entries, err := store.Load("test-conversation")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(entries))
	assert.Equal(t, "Valid 1", entries[0].Turn.Content)
	assert.Equal(t, "Valid 2", entries[1].Turn.Content)
}

func TestStore_Delete(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	turn := Turn{
		Kind:      KindUser,
		Content:   "Test",
		Timestamp: time.Now(),
	}
	err := store.Append("test-conversation", turn)
	require.NoError(t, err)

	err = store.Delete("test-conversation")
	assert.NoError(t, err)

	// Verify file is deleted
	transcriptPath := store.path("test-conversation")
	_, err = os.Stat(transcriptPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_List(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	conversations := []string{"conv1", "conv2", "conv3"}
	for _, key := range conversations {
		err := store.Create(key)
		require.NoError(t, err)
	}

	list, err := store.List()
	assert.NoError(t, err)
	assert.ElementsMatch(t, conversations, list)
}

func TestStore_Replace(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	for i := 0; i < 5; i++ {
		err := store.Append("test-conversation", Turn{
			Kind:      KindUser,
			Content:   "Turn",
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	entries, err := store.Load("test-conversation")
	require.NoError(t, err)
	require.Len(t, entries, 5)

	err = store.Replace("test-conversation", entries[3:])
	assert.NoError(t, err)

	entries, err = store.Load("test-conversation")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_ReplaceRestampsKey(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	err := store.Append("source", Turn{
		Kind:      KindUser,
		Content:   "Hello",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	entries, err := store.Load("source")
	require.NoError(t, err)

	err = store.Replace("target", entries)
	require.NoError(t, err)

	entries, err = store.Load("target")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "target", entries[0].ConversationKey)
}

func TestStore_Repair(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()

	transcriptPath := filepath.Join(tempDir, "test-conversation.jsonl")
	content := `{"conversationKey":"test-conversation","turn":{"kind":"user","content":"Valid 1","timestamp":"2024-01-01T00:00:00Z"}}
invalid json line
{"conversationKey":"test-conversation","turn":{"kind":"assistant","content":"Valid 2","timestamp":"2024-01-01T00:00:01Z"}}
{"invalid":"entry"}
{"conversationKey":"test-conversation","turn":{"kind":"user","content":"Valid 3","timestamp":"2024-01-01T00:00:02Z"}}
`
	err := os.WriteFile(transcriptPath, []byte(content), 0600)
	require.NoError(t, err)

	err = store.Repair("test-conversation")
	assert.NoError(t, err)

	// Repaired file holds only the parseable entries
	entries, err := store.Load("test-conversation")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(entries))

	data, err := os.ReadFile(transcriptPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "invalid json line")
}

func TestStore_Info(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	for i := 0; i < 5; i++ {
		turn := Turn{
			Kind:      KindUser,
			Content:   "Test turn",
			Timestamp: time.Now(),
		}
		err := store.Append("test-conversation", turn)
		require.NoError(t, err)
	}

	info, err := store.Info("test-conversation")
	assert.NoError(t, err)
	assert.Equal(t, "test-conversation", info["conversationKey"])
	assert.Equal(t, 5, info["turnCount"])
	assert.Greater(t, info["size"].(int64), int64(0))
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	const numGoroutines = 10
	const turnsPerGoroutine = 10

	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < turnsPerGoroutine; j++ {
				turn := Turn{
					Kind:      KindUser,
					Content:   "Concurrent turn",
					Timestamp: time.Now(),
				}
				err := store.Append("concurrent-conversation", turn)
				assert.NoError(t, err)
			}
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	// Verify all turns were written
	entries, err := store.Load("concurrent-conversation")
	assert.NoError(t, err)
	assert.Equal(t, numGoroutines*turnsPerGoroutine, len(entries))
}
