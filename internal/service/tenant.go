// Package service implements the auto-reply pipeline: tenant routing, onboarding,
// pauses, rate limiting, reply generation and message dispatch.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/pkg/logger"
)

// TenantDirectory maps WhatsApp phone number ids to businesses.
type TenantDirectory struct {
	store  *store.Store
	logger *logger.Logger
}

// NewTenantDirectory creates a new tenant directory.
func NewTenantDirectory(st *store.Store, log *logger.Logger) *TenantDirectory {
	return &TenantDirectory{store: st, logger: log.Named("tenants")}
}

// Resolve returns the connected business that owns phoneNumberID, or nil.
func (d *TenantDirectory) Resolve(ctx context.Context, phoneNumberID string) (*model.Business, error) {
	if phoneNumberID == "" {
		return nil, nil
	}
	b, err := d.store.GetBusinessByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if b == nil {
		d.logger.Warn("unknown phone_number_id in webhook", zap.String("phone_number_id", phoneNumberID))
	}
	return b, nil
}

// ResolveWithFallback is Resolve, falling back to the first onboarded business
// for single-tenant deployments.
func (d *TenantDirectory) ResolveWithFallback(ctx context.Context, phoneNumberID string) (*model.Business, error) {
	b, err := d.Resolve(ctx, phoneNumberID)
	if err != nil || b != nil {
		return b, err
	}

	fallback, err := d.store.FirstOnboardedBusiness(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fallback tenant: %w", err)
	}
	if fallback != nil {
		d.logger.Info("using fallback business for single-tenant mode",
			zap.String("phone_number_id", phoneNumberID),
			zap.Int64("business_id", fallback.ID))
	}
	return fallback, nil
}
