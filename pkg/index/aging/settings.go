package aging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"mercator-hq/indexretain/pkg/index"
)

// Settings holds the ShowAgedDataForBrowseAndRecovery toggle of one index.
// The persisted value wins over the default; changes apply to the next read.
type Settings struct {
	store       index.Store
	defaultShow atomic.Bool
	logger      *slog.Logger
}

// NewSettings creates the toggle with the value used until one is persisted.
func NewSettings(store index.Store, defaultShow bool, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Settings{
		store:  store,
		logger: logger.With("component", "index.settings"),
	}
	s.defaultShow.Store(defaultShow)
	return s
}

// SetDefault replaces the value used while none is persisted.
func (s *Settings) SetDefault(show bool) {
	s.defaultShow.Store(show)
}

// ShowAgedData returns the current toggle value.
func (s *Settings) ShowAgedData(ctx context.Context) (bool, error) {
	raw, ok, err := s.store.GetSetting(ctx, index.ShowAgedDataSetting)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", index.ShowAgedDataSetting, err)
	}
	if !ok {
		return s.defaultShow.Load(), nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", index.ShowAgedDataSetting, raw, err)
	}
	return v, nil
}

// SetShowAgedData persists the toggle.
func (s *Settings) SetShowAgedData(ctx context.Context, show bool) error {
	if err := s.store.PutSetting(ctx, index.ShowAgedDataSetting, strconv.FormatBool(show)); err != nil {
		return fmt.Errorf("failed to write %s: %w", index.ShowAgedDataSetting, err)
	}
	s.logger.Info("setting changed", "name", index.ShowAgedDataSetting, "value", show)
	return nil
}
