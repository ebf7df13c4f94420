package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/logger"
)

// UsersReloader keeps the auth directory in sync with the users file.
type UsersReloader struct {
	loader        *auth.Loader
	directory     *auth.Directory
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewUsersReloader creates a reloader. interval <= 0 disables the periodic
// reload; manualTrigger may be nil.
func NewUsersReloader(
	loader *auth.Loader,
	directory *auth.Directory,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *UsersReloader {
	return &UsersReloader{
		loader:        loader,
		directory:     directory,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start loads the users file once, failing when it cannot, then keeps
// reloading in the background.
func (ur *UsersReloader) Start(ctx context.Context) error {
	if err := ur.Reload(); err != nil {
		return fmt.Errorf("initial users load failed: %w", err)
	}

	go func() {
		var tick <-chan time.Time
		if ur.interval > 0 {
			ticker := time.NewTicker(ur.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-tick:
				ur.reloadLogged()
			case <-ur.manualTrigger:
				ur.logger.Info("manual users reload triggered")
				ur.reloadLogged()
			case <-ur.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (ur *UsersReloader) Stop() {
	close(ur.stopCh)
}

func (ur *UsersReloader) reloadLogged() {
	if err := ur.Reload(); err != nil {
		// The previous directory stays in place.
		ur.logger.Error("failed to reload users",
			logger.String("file", ur.loader.Path()),
			logger.Error(err))
	}
}

// Reload reads the users file and swaps the directory contents.
func (ur *UsersReloader) Reload() error {
	users, err := ur.loader.Load()
	if err != nil {
		return err
	}

	active := 0
	for _, u := range users {
		if u.IsActive() {
			active++
		}
	}

	ur.directory.Update(users)
	ur.logger.Info("users loaded",
		logger.Int("count", len(users)),
		logger.Int("active", active))
	return nil
}
