package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/wishwell/backend/internal/app"
	"github.com/kimhsiao/wishwell/backend/internal/config"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

var (
	coreMu sync.Mutex
	core   *app.App
	// extra options for app.Open; tests swap the network collaborators
	coreOptions []app.Option

	lastErr string
	lastMu  sync.RWMutex
)

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

func getLastError() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	return lastErr
}

// initCore opens the core from configPath (empty means the default
// location), with dataDir and userID overriding the file when set.
func initCore(configPath, dataDir, userID string) error {
	coreMu.Lock()
	defer coreMu.Unlock()
	if core != nil {
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if userID != "" {
		cfg.Session.UserID = userID
	}

	a, err := app.Open(cfg, coreOptions...)
	if err != nil {
		return err
	}
	a.Scheduler.Start(a.Context(context.Background()))
	core = a
	return nil
}

func cleanupCore() {
	coreMu.Lock()
	defer coreMu.Unlock()
	if core != nil {
		core.Close()
		core = nil
	}
}

func current() (*app.App, context.Context, error) {
	coreMu.Lock()
	defer coreMu.Unlock()
	if core == nil {
		return nil, nil, apperrors.New(apperrors.ErrInternal, "core not initialized")
	}
	return core, core.Context(context.Background()), nil
}

func toJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}
	return string(data), nil
}

func wishPost(payloadJSON string) (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	var payload models.WishPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid wish JSON", err)
	}
	if payload.UserID == "" {
		payload.UserID = a.UserID()
	}
	res, err := a.Service.Post(ctx, payload)
	if err != nil {
		return "", err
	}
	if res.Queued {
		a.Scheduler.TriggerFlush(ctx)
	}
	return toJSON(res)
}

func queueFlush() (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	res, err := a.Scheduler.FlushNow(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(res)
}

func queueStatus() (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	st, err := a.Queue.Status(ctx)
	if err != nil {
		return "", err
	}
	return toJSON(st)
}

func queueClear() error {
	a, ctx, err := current()
	if err != nil {
		return err
	}
	return a.Queue.Clear(ctx)
}

func setOnline(online bool) error {
	a, _, err := current()
	if err != nil {
		return err
	}
	a.Scheduler.SetOnlineStatus(online)
	return nil
}

func engagementRecord(kind string) (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	k, err := models.ParseKind(kind)
	if err != nil {
		return "", err
	}
	res, err := a.Service.Record(ctx, a.UserID(), k)
	if err != nil {
		return "", err
	}
	return toJSON(res)
}

func engagementStats() (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	stats, err := a.Service.Stats(ctx, a.UserID())
	if err != nil {
		return "", err
	}
	return toJSON(stats)
}

func nextMilestone(kind string) (string, error) {
	a, ctx, err := current()
	if err != nil {
		return "", err
	}
	m, err := a.Service.NextMilestone(ctx, a.UserID(), models.EngagementKind(kind))
	if err != nil {
		return "", err
	}
	return toJSON(m)
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
