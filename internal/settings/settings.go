// Package settings serves the singleton support and payment configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/cache"
	"box-claims-api/internal/features"
	"box-claims-api/internal/logging"
	"box-claims-api/internal/models"
)

const cacheTTL = 5 * time.Minute

// Store is the persistence the settings service needs.
type Store interface {
	GetSupportConfig(ctx context.Context) (*models.SupportConfig, error)
	SaveSupportConfig(ctx context.Context, cfg models.SupportConfig) error
	GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error)
	SavePaymentConfig(ctx context.Context, cfg models.PaymentConfig) error
}

type Service struct {
	store    Store
	cache    cache.Cache
	features *features.Manager
	fallback models.SupportConfig
}

// NewService builds the service. fallback is the support contact used until
// staff configure one.
func NewService(store Store, c cache.Cache, fm *features.Manager, fallback models.SupportConfig) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{store: store, cache: c, features: fm, fallback: fallback}
}

// SupportContact returns the configured support contact or the bootstrap
// default. It never fails; storage errors fall back to the default.
func (s *Service) SupportContact(ctx context.Context) models.SupportConfig {
	cfg, err := s.loadSupport(ctx)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			logging.Warn(ctx).Err(err).Msg("using default support contact")
		}
		return s.fallback
	}
	return *cfg
}

// Support returns the support contact for display.
func (s *Service) Support(ctx context.Context, caller authz.Caller) (models.SupportConfig, error) {
	if err := authz.Authorize(caller, authz.OpViewConfig, authz.Resource{}); err != nil {
		return models.SupportConfig{}, err
	}
	return s.SupportContact(ctx), nil
}

// SaveSupport replaces the support contact.
func (s *Service) SaveSupport(ctx context.Context, caller authz.Caller, cfg models.SupportConfig) error {
	if err := authz.Authorize(caller, authz.OpManageConfig, authz.Resource{}); err != nil {
		return err
	}
	if err := s.store.SaveSupportConfig(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, cache.KeySupportConfig)
	return nil
}

// Payment returns the mobile payment account, or apperr.ErrNotFound when
// none has been configured.
func (s *Service) Payment(ctx context.Context, caller authz.Caller) (*models.PaymentConfig, error) {
	if err := authz.Authorize(caller, authz.OpViewConfig, authz.Resource{}); err != nil {
		return nil, err
	}

	var cfg models.PaymentConfig
	if s.cacheEnabled() {
		if err := cache.GetJSON(ctx, s.cache, cache.KeyPaymentConfig, &cfg); err == nil {
			return &cfg, nil
		}
	}

	stored, err := s.store.GetPaymentConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, cache.KeyPaymentConfig, stored)
	return stored, nil
}

// SavePayment replaces the mobile payment account.
func (s *Service) SavePayment(ctx context.Context, caller authz.Caller, cfg models.PaymentConfig) error {
	if err := authz.Authorize(caller, authz.OpManageConfig, authz.Resource{}); err != nil {
		return err
	}
	if err := s.store.SavePaymentConfig(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, cache.KeyPaymentConfig)
	return nil
}

func (s *Service) loadSupport(ctx context.Context) (*models.SupportConfig, error) {
	var cfg models.SupportConfig
	if s.cacheEnabled() {
		if err := cache.GetJSON(ctx, s.cache, cache.KeySupportConfig, &cfg); err == nil {
			return &cfg, nil
		}
	}

	stored, err := s.store.GetSupportConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load support config: %w", err)
	}
	s.remember(ctx, cache.KeySupportConfig, stored)
	return stored, nil
}

func (s *Service) cacheEnabled() bool {
	return s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) remember(ctx context.Context, key string, value interface{}) {
	if !s.cacheEnabled() {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, value, cacheTTL); err != nil {
		logging.Warn(ctx).Err(err).Str("key", key).Msg("failed to cache value")
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		logging.Warn(ctx).Err(err).Strs("keys", keys).Msg("failed to invalidate cache")
	}
}
