package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Turn kinds as they appear in stored transcripts.
const (
	KindUser       = "user"
	KindAssistant  = "assistant"
	KindToolResult = "tool_result"
	KindFallback   = "fallback"
)

// ToolCall records a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn represents a single conversation turn
type Turn struct {
	Kind       string                 `json:"kind"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"toolCalls,omitempty"`
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Entry represents a turn with its conversation key
type Entry struct {
	ConversationKey string `json:"conversationKey"`
	Turn            Turn   `json:"turn"`
}

// Store manages conversation persistence using JSONL format
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// New creates a new Store
func New(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".strata", "transcripts")
	}

	// Create transcripts directory if it doesn't exist
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Transcript store initialized")
	s.updateActiveConversationsMetric()

	return s, nil
}

// validateKey validates the conversation key for security
func (s *Store) validateKey(conversationKey string) error {
	if conversationKey == "" {
		return fmt.Errorf("conversation key cannot be empty")
	}
	if strings.Contains(conversationKey, "..") {
		return fmt.Errorf("conversation key cannot contain '..'")
	}
	if strings.ContainsAny(conversationKey, "/\\") {
		return fmt.Errorf("conversation key cannot contain path separators")
	}
	if strings.Contains(conversationKey, "\x00") {
		return fmt.Errorf("conversation key cannot contain null bytes")
	}
	return nil
}

// path returns the file path for a conversation
func (s *Store) path(conversationKey string) string {
	return filepath.Join(s.dir, conversationKey+".jsonl")
}

func (s *Store) updateActiveConversationsMetric() {
	conversations, err := s.List()
	if err != nil {
		return
	}
	observability.SetActiveConversations(len(conversations))
}

// getWriteLock gets or creates a write lock for a conversation
func (s *Store) getWriteLock(conversationKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[conversationKey]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[conversationKey] = lock
	return lock
}

// releaseWriteLock releases a write lock for a conversation
func (s *Store) releaseWriteLock(conversationKey string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, conversationKey)
}

// Create creates a new transcript file
func (s *Store) Create(conversationKey string) error {
	return s.CreateWithContext(context.Background(), conversationKey)
}

// CreateWithContext creates a new transcript file with tracing context.
func (s *Store) CreateWithContext(ctx context.Context, conversationKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationID(ctx, conversationKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.transcript",
		"transcript.create",
		attribute.String("conversation_id", conversationKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := s.validateKey(conversationKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	transcriptPath := s.path(conversationKey)

	// Check if transcript already exists
	if _, err := os.Stat(transcriptPath); err == nil {
		logger.Debug().Msg("Transcript already exists")
		return nil
	}

	// Create empty file with restricted permissions
	file, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create transcript file: %w", err)
	}
	file.Close()

	s.updateActiveConversationsMetric()
	logger.Info().Msg("Transcript created")

	return nil
}

// Append appends a turn to a conversation
func (s *Store) Append(conversationKey string, turn Turn) error {
	return s.AppendWithContext(context.Background(), conversationKey, turn)
}

// AppendWithContext appends a turn to a conversation with tracing context.
func (s *Store) AppendWithContext(ctx context.Context, conversationKey string, turn Turn) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationID(ctx, conversationKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.transcript",
		"transcript.append",
		attribute.String("conversation_id", conversationKey),
		attribute.String("kind", turn.Kind),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordTranscriptSave(time.Since(start))
	}()

	if err := s.validateKey(conversationKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Validate turn. Assistant turns that only carry tool calls have no text.
	if turn.Kind == "" {
		return fmt.Errorf("turn kind cannot be empty")
	}
	if turn.Content == "" && len(turn.ToolCalls) == 0 {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	// Get write lock for this conversation
	lock := s.getWriteLock(conversationKey)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(conversationKey)

	// Create transcript if it doesn't exist
	if _, err := os.Stat(transcriptPath); os.IsNotExist(err) {
		if err := s.CreateWithContext(ctx, conversationKey); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	// Open file for appending
	file, err := os.OpenFile(transcriptPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	entry := Entry{
		ConversationKey: conversationKey,
		Turn:            turn,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	// Write JSON line
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}

	// Sync to disk
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().
		Str("kind", turn.Kind).
		Msg("Turn appended")

	return nil
}

// Load loads all turns from a conversation
func (s *Store) Load(conversationKey string) ([]Entry, error) {
	return s.LoadWithContext(context.Background(), conversationKey)
}

// LoadWithContext loads all turns from a conversation with tracing context.
func (s *Store) LoadWithContext(ctx context.Context, conversationKey string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationID(ctx, conversationKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.transcript",
		"transcript.load",
		attribute.String("conversation_id", conversationKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordTranscriptLoad(time.Since(start))
	}()

	if err := s.validateKey(conversationKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	transcriptPath := s.path(conversationKey)

	// Check if transcript exists
	if _, err := os.Stat(transcriptPath); os.IsNotExist(err) {
		logger.Debug().Msg("Transcript does not exist")
		return []Entry{}, nil
	}

	// Open file for reading
	file, err := os.Open(transcriptPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		// Validate entry
		if entry.Turn.Kind == "" {
			logger.Warn().
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	logger.Debug().
		Int("turns", len(entries)).
		Msg("Transcript loaded")

	return entries, nil
}

// Replace atomically rewrites a conversation with the given entries.
// Entries are restamped with the target conversation key.
func (s *Store) Replace(conversationKey string, entries []Entry) error {
	if err := s.validateKey(conversationKey); err != nil {
		return err
	}

	// Get write lock
	lock := s.getWriteLock(conversationKey)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(conversationKey)
	tempPath := transcriptPath + ".tmp"

	// Write to temp file
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		entry.ConversationKey = conversationKey

		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	// Atomic replace
	if err := os.Rename(tempPath, transcriptPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript file: %w", err)
	}

	log.Info().
		Str("conversation_id", conversationKey).
		Int("entries", len(entries)).
		Msg("Transcript replaced")

	return nil
}

// Repair rewrites a corrupted transcript keeping only parseable entries
func (s *Store) Repair(conversationKey string) error {
	// Load skips corrupted lines
	entries, err := s.Load(conversationKey)
	if err != nil {
		return err
	}

	if err := s.Replace(conversationKey, entries); err != nil {
		return err
	}

	log.Info().
		Str("conversation_id", conversationKey).
		Int("entries", len(entries)).
		Msg("Transcript repaired")

	return nil
}

// Delete deletes a transcript file
func (s *Store) Delete(conversationKey string) error {
	return s.DeleteWithContext(context.Background(), conversationKey)
}

// DeleteWithContext deletes a transcript file with tracing context.
func (s *Store) DeleteWithContext(ctx context.Context, conversationKey string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationID(ctx, conversationKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"strata.transcript",
		"transcript.delete",
		attribute.String("conversation_id", conversationKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := s.validateKey(conversationKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Wait for any in-progress writes
	lock := s.getWriteLock(conversationKey)
	lock.Lock()
	defer lock.Unlock()

	transcriptPath := s.path(conversationKey)

	if err := os.Remove(transcriptPath); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete transcript file: %w", err)
	}

	s.releaseWriteLock(conversationKey)
	s.updateActiveConversationsMetric()

	logger.Info().Msg("Transcript deleted")

	return nil
}

// List lists all stored conversations
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcripts directory: %w", err)
	}

	var conversations []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		conversationKey := strings.TrimSuffix(name, ".jsonl")
		conversations = append(conversations, conversationKey)
	}

	return conversations, nil
}

// Info returns metadata about a conversation
func (s *Store) Info(conversationKey string) (map[string]interface{}, error) {
	if err := s.validateKey(conversationKey); err != nil {
		return nil, err
	}

	transcriptPath := s.path(conversationKey)

	info, err := os.Stat(transcriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation does not exist")
		}
		return nil, fmt.Errorf("failed to stat transcript file: %w", err)
	}

	// Count turns
	entries, err := s.Load(conversationKey)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"conversationKey": conversationKey,
		"size":            info.Size(),
		"lastModified":    info.ModTime(),
		"turnCount":       len(entries),
	}, nil
}

// Close closes the store
func (s *Store) Close() error {
	// Clear all write locks
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("Transcript store closed")

	return nil
}
