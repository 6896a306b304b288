package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sahuti/autoreply/internal/model"
)

const onboardingColumns = `id, phone_number, business_id, current_step, collected_data, is_complete, created_at, updated_at`

// GetActiveOnboarding returns the incomplete onboarding for phone, or nil.
func (s *Store) GetActiveOnboarding(ctx context.Context, phone string) (*model.OnboardingState, error) {
	var st model.OnboardingState
	err := s.db.GetContext(ctx, &st, `SELECT `+onboardingColumns+` FROM onboarding_states
		WHERE phone_number = ? AND is_complete = 0 ORDER BY id DESC LIMIT 1`, phone)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get onboarding state: %w", err)
	}
	return &st, nil
}

// CreateOnboarding starts a new onboarding for phone at the name step.
func (s *Store) CreateOnboarding(ctx context.Context, phone string, businessID *int64) (*model.OnboardingState, error) {
	now := s.now()
	st := &model.OnboardingState{
		PhoneNumber:   phone,
		BusinessID:    businessID,
		CurrentStep:   model.StepName,
		CollectedData: model.CollectedData{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO onboarding_states
		(phone_number, business_id, current_step, collected_data, is_complete, created_at, updated_at)
		VALUES (:phone_number, :business_id, :current_step, :collected_data, :is_complete, :created_at, :updated_at)`, st)
	if err != nil {
		return nil, fmt.Errorf("failed to create onboarding state: %w", err)
	}
	if st.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read onboarding id: %w", err)
	}
	return st, nil
}

// UpdateOnboarding persists the step and collected data of st.
func (s *Store) UpdateOnboarding(ctx context.Context, st *model.OnboardingState) error {
	st.UpdatedAt = s.now()
	res, err := s.db.NamedExecContext(ctx, `UPDATE onboarding_states SET
		current_step = :current_step, collected_data = :collected_data, business_id = :business_id, updated_at = :updated_at
		WHERE id = :id`, st)
	if err != nil {
		return fmt.Errorf("failed to update onboarding state: %w", err)
	}
	return expectOne(res, "onboarding state")
}

// CompleteOnboarding writes profile to the business owned by st.PhoneNumber (creating it when
// needed), marks it onboarded and closes st. It runs in one transaction.
func (s *Store) CompleteOnboarding(ctx context.Context, st *model.OnboardingState, profile BusinessProfile) (*model.Business, error) {
	var businessID int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		id, err := s.upsertProfile(ctx, tx, st, profile, now)
		if err != nil {
			return err
		}
		businessID = id

		if _, err := tx.ExecContext(ctx, `UPDATE onboarding_states SET
			is_complete = 1, current_step = ?, business_id = ?, collected_data = ?, updated_at = ?
			WHERE id = ?`, model.StepConfirm, id, st.CollectedData, now, st.ID); err != nil {
			return fmt.Errorf("failed to complete onboarding state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	st.IsComplete = true
	st.BusinessID = &businessID
	return s.GetBusiness(ctx, businessID)
}

func (s *Store) upsertProfile(ctx context.Context, tx *sqlx.Tx, st *model.OnboardingState, p BusinessProfile, now time.Time) (int64, error) {
	var targetID int64
	switch {
	case st.BusinessID != nil:
		targetID = *st.BusinessID
	default:
		err := tx.GetContext(ctx, &targetID, `SELECT id FROM businesses WHERE phone_number = ?`, st.PhoneNumber)
		if err != nil && !isNoRows(err) {
			return 0, fmt.Errorf("failed to look up business: %w", err)
		}
	}

	if targetID != 0 {
		// The owner phone is unique. A row that lost its onboarding (operator reset) gives it up;
		// an onboarded row keeps it and the target is completed without an owner phone.
		if _, err := tx.ExecContext(ctx, `UPDATE businesses SET phone_number = NULL, updated_at = ?
			WHERE phone_number = ? AND id != ? AND is_onboarded = 0`, now, st.PhoneNumber, targetID); err != nil {
			return 0, fmt.Errorf("failed to release owner phone: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE businesses SET
			phone_number = CASE
				WHEN phone_number IS NULL AND NOT EXISTS (SELECT 1 FROM businesses o WHERE o.phone_number = ? AND o.id != ?)
				THEN ? ELSE phone_number END,
			name = ?, services = ?, areas = ?, operating_hours = ?, booking_method = ?,
			is_onboarded = 1, updated_at = ?
			WHERE id = ?`,
			st.PhoneNumber, targetID, st.PhoneNumber,
			p.Name, p.Services, p.Areas, p.OperatingHours, p.BookingMethod, now, targetID)
		if err != nil {
			return 0, fmt.Errorf("failed to update business profile: %w", err)
		}
		if err := expectOne(res, "business"); err != nil {
			return 0, err
		}
		return targetID, nil
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO businesses
		(phone_number, name, services, areas, operating_hours, booking_method, is_onboarded, wa_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		st.PhoneNumber, p.Name, p.Services, p.Areas, p.OperatingHours, p.BookingMethod,
		model.WAStatusPendingConnect, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create business: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read business id: %w", err)
	}
	return id, nil
}
