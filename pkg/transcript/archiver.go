package transcript

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout = 30 * time.Minute

	archivedPrefix = "archived_"
)

// Archiver moves idle conversations into the archived namespace
type Archiver struct {
	store       *Store
	idleTimeout time.Duration
	stopCh      chan struct{}
	running     bool
}

// NewArchiver creates a new conversation archiver
func NewArchiver(store *Store, idleTimeout time.Duration) *Archiver {
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Archiver{
		store:       store,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Start starts the archiver
func (a *Archiver) Start() error {
	if a.running {
		return fmt.Errorf("archiver is already running")
	}

	a.running = true
	go a.run()

	log.Info().
		Dur("idle_timeout", a.idleTimeout).
		Msg("Transcript archiver started")

	return nil
}

// Stop stops the archiver
func (a *Archiver) Stop() error {
	if !a.running {
		return fmt.Errorf("archiver is not running")
	}

	close(a.stopCh)
	a.running = false

	log.Info().Msg("Transcript archiver stopped")

	return nil
}

// run is the main archiver loop
func (a *Archiver) run() {
	ticker := time.NewTicker(5 * time.Minute) // Check every 5 minutes
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.archiveIdleConversations(); err != nil {
				log.Error().Err(err).Msg("Failed to archive idle conversations")
			}
		case <-a.stopCh:
			return
		}
	}
}

// archiveIdleConversations archives conversations that have been idle
func (a *Archiver) archiveIdleConversations() error {
	conversations, err := a.store.List()
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	now := time.Now()
	archived := 0

	for _, conversationKey := range conversations {
		// Skip already archived conversations
		if isArchived(conversationKey) {
			continue
		}

		info, err := a.store.Info(conversationKey)
		if err != nil {
			log.Warn().
				Str("conversation_id", conversationKey).
				Err(err).
				Msg("Failed to get conversation info")
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		idleTime := now.Sub(lastModified)
		if idleTime >= a.idleTimeout {
			if err := archiveConversation(a.store, conversationKey); err != nil {
				log.Error().
					Str("conversation_id", conversationKey).
					Err(err).
					Msg("Failed to archive conversation")
				continue
			}
			archived++
		}
	}

	if archived > 0 {
		log.Info().
			Int("archived", archived).
			Msg("Archived idle conversations")
	}

	return nil
}

// archiveConversation moves a conversation into the archived namespace
func archiveConversation(store *Store, conversationKey string) error {
	archivedKey := archivedPrefix + conversationKey

	entries, err := store.Load(conversationKey)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := store.Replace(archivedKey, entries); err != nil {
		return fmt.Errorf("failed to write archived conversation: %w", err)
	}

	if err := store.Delete(conversationKey); err != nil {
		return fmt.Errorf("failed to delete original conversation: %w", err)
	}

	log.Info().
		Str("conversation_id", conversationKey).
		Str("archived_key", archivedKey).
		Msg("Conversation archived")

	return nil
}

// IsRunning returns whether the archiver is running
func (a *Archiver) IsRunning() bool {
	return a.running
}

// GetIdleTimeout returns the idle timeout
func (a *Archiver) GetIdleTimeout() time.Duration {
	return a.idleTimeout
}

// SetIdleTimeout sets the idle timeout
func (a *Archiver) SetIdleTimeout(timeout time.Duration) {
	a.idleTimeout = timeout
	log.Info().Dur("idle_timeout", timeout).Msg("Idle timeout updated")
}

// isArchived checks if a conversation key represents an archived conversation
func isArchived(conversationKey string) bool {
	return len(conversationKey) > len(archivedPrefix) && conversationKey[:len(archivedPrefix)] == archivedPrefix
}

// ArchiveNow immediately archives a specific conversation
func (a *Archiver) ArchiveNow(conversationKey string) error {
	if isArchived(conversationKey) {
		return fmt.Errorf("conversation is already archived")
	}

	return archiveConversation(a.store, conversationKey)
}

// GetArchived returns all archived conversations
func (a *Archiver) GetArchived() ([]string, error) {
	conversations, err := a.store.List()
	if err != nil {
		return nil, err
	}

	var archived []string
	for _, conversationKey := range conversations {
		if isArchived(conversationKey) {
			archived = append(archived, conversationKey)
		}
	}

	return archived, nil
}
