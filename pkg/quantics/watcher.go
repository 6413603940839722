package quantics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/strataquant/strata/internal/observability"
)

// Credentials is the on-disk login pair for the Quantics service.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoadCredentialsFile reads a login pair from a JSON file.
func LoadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, errors.New("credentials file missing username or password")
	}

	return creds, nil
}

// CredentialsWatcher reloads the login pair when the backing file
// changes, so rotated credentials take effect without a restart.
type CredentialsWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	path     string
	cache    *CredentialCache
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewCredentialsWatcher starts watching path and pushes reloaded
// credentials into cache.
func NewCredentialsWatcher(logger zerolog.Logger, path string, cache *CredentialCache) (*CredentialsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &CredentialsWatcher{
		watcher:  watcher,
		logger:   logger,
		path:     path,
		cache:    cache,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	// Watch the directory so atomic replace-by-rename is seen too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go cw.run()

	return cw, nil
}

// Stop stops the file watcher.
func (cw *CredentialsWatcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

// run processes file system events
func (cw *CredentialsWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			// Only the credentials file itself matters
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Credentials file changed")

				cw.scheduleReload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error().Err(err).Msg("Credentials watcher error")

		case <-cw.stopCh:
			return
		}
	}
}

// scheduleReload debounces the reload so editors that write in several
// steps trigger it once.
func (cw *CredentialsWatcher) scheduleReload() {
	if cw.timer != nil {
		cw.timer.Stop()
	}

	cw.timer = time.AfterFunc(cw.debounce, cw.reload)
}

func (cw *CredentialsWatcher) reload() {
	creds, err := LoadCredentialsFile(cw.path)
	if err != nil {
		cw.logger.Error().Err(err).Msg("Failed to reload credentials")
		return
	}

	cw.cache.SetCredentials(creds.Username, creds.Password)
	observability.RecordConfigAudit(context.Background(), "credentials.reload", creds.Username, map[string]interface{}{
		"file": filepath.Base(cw.path),
	})
	cw.logger.Info().Msg("Reloaded Quantics credentials")
}
