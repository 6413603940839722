package transcript

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAge     = 30 * 24 * time.Hour
	DefaultMaxEntries = 500
	DefaultSchedule   = "0 3 * * *" // daily at 03:00
)

// Retention enforces transcript retention on a cron schedule.
//
// Every sweep prunes oversized conversations to maxEntries and removes
// archived conversations older than maxAge. When archiving is disabled,
// expired active conversations are removed directly; when enabled they
// are left for the idle archiver and expire later as archived copies.
type Retention struct {
	store      *Store
	schedule   cron.Schedule
	spec       string
	maxAge     time.Duration
	maxEntries int
	archive    bool
	stopCh     chan struct{}
	running    bool
}

// NewRetention creates a new retention sweeper from a cron spec
func NewRetention(store *Store, spec string, maxAge time.Duration, maxEntries int, archive bool) (*Retention, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}

	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Retention{
		store:      store,
		schedule:   schedule,
		spec:       spec,
		maxAge:     maxAge,
		maxEntries: maxEntries,
		archive:    archive,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start starts the retention sweeper
func (r *Retention) Start() error {
	if r.running {
		return fmt.Errorf("retention is already running")
	}

	r.running = true
	go r.run()

	log.Info().
		Str("schedule", r.spec).
		Dur("max_age", r.maxAge).
		Int("max_entries", r.maxEntries).
		Msg("Transcript retention started")

	return nil
}

// Stop stops the retention sweeper
func (r *Retention) Stop() error {
	if !r.running {
		return fmt.Errorf("retention is not running")
	}

	close(r.stopCh)
	r.running = false

	log.Info().Msg("Transcript retention stopped")

	return nil
}

// run waits for each scheduled occurrence and sweeps
func (r *Retention) run() {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			if err := r.sweep(); err != nil {
				log.Error().Err(err).Msg("Transcript retention sweep failed")
			}
		case <-r.stopCh:
			timer.Stop()
			return
		}
	}
}

// sweep prunes oversized conversations and removes expired ones
func (r *Retention) sweep() error {
	conversations, err := r.store.List()
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, conversationKey := range conversations {
		if err := r.prune(conversationKey); err != nil {
			log.Warn().
				Str("conversation_id", conversationKey).
				Err(err).
				Msg("Failed to prune conversation")
		}

		// Active conversations are the archiver's business while archiving
		// is enabled; they expire later as archived copies.
		if !isArchived(conversationKey) && r.archive {
			continue
		}

		info, err := r.store.Info(conversationKey)
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

		age := now.Sub(lastModified)
		if age >= r.maxAge {
			if err := r.store.Delete(conversationKey); err != nil {
				log.Error().
					Str("conversation_id", conversationKey).
					Err(err).
					Msg("Failed to delete conversation")
				continue
			}
			deleted++

			log.Debug().
				Str("conversation_id", conversationKey).
				Dur("age", age).
				Msg("Conversation deleted")
		}
	}

	if deleted > 0 {
		log.Info().
			Int("deleted", deleted).
			Msg("Removed expired conversations")
	}

	return nil
}

// prune rewrites a conversation keeping only the most recent maxEntries turns
func (r *Retention) prune(conversationKey string) error {
	if r.maxEntries <= 0 {
		return nil
	}

	entries, err := r.store.Load(conversationKey)
	if err != nil {
		return err
	}

	if len(entries) <= r.maxEntries {
		return nil
	}

	pruned := entries[len(entries)-r.maxEntries:]
	if err := r.store.Replace(conversationKey, pruned); err != nil {
		return err
	}

	log.Debug().
		Str("conversation_id", conversationKey).
		Int("from_entries", len(entries)).
		Int("to_entries", len(pruned)).
		Msg("Conversation pruned")

	return nil
}

// IsRunning returns whether the retention sweeper is running
func (r *Retention) IsRunning() bool {
	return r.running
}

// GetMaxAge returns the retention age limit
func (r *Retention) GetMaxAge() time.Duration {
	return r.maxAge
}

// SetMaxAge sets the retention age limit
func (r *Retention) SetMaxAge(maxAge time.Duration) {
	r.maxAge = maxAge
	log.Info().Dur("max_age", maxAge).Msg("Retention max age updated")
}

// GetMaxEntries returns max turns retained per conversation after pruning.
func (r *Retention) GetMaxEntries() int {
	return r.maxEntries
}

// SetMaxEntries sets max turns retained per conversation after pruning.
func (r *Retention) SetMaxEntries(maxEntries int) {
	r.maxEntries = maxEntries
	log.Info().Int("max_entries", maxEntries).Msg("Retention max entries updated")
}

// NextRun returns the next scheduled sweep time
func (r *Retention) NextRun() time.Time {
	return r.schedule.Next(time.Now())
}

// SweepNow immediately runs a retention sweep
func (r *Retention) SweepNow() error {
	return r.sweep()
}

// GetStats returns retention statistics
func (r *Retention) GetStats() (map[string]interface{}, error) {
	conversations, err := r.store.List()
	if err != nil {
		return nil, err
	}

	total := len(conversations)
	archivedCount := 0
	eligible := 0

	now := time.Now()

	for _, conversationKey := range conversations {
		if !isArchived(conversationKey) {
			continue
		}
		archivedCount++

		info, err := r.store.Info(conversationKey)
		if err != nil {
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		if now.Sub(lastModified) >= r.maxAge {
			eligible++
		}
	}

	return map[string]interface{}{
		"total_conversations":    total,
		"archived_conversations": archivedCount,
		"eligible_for_removal":   eligible,
		"max_age":                r.maxAge.String(),
		"schedule":               r.spec,
		"running":                r.running,
	}, nil
}
