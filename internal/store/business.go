package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sahuti/autoreply/internal/model"
)

const businessColumns = `id, phone_number, name, services, areas, operating_hours, booking_method,
	is_onboarded, llm_enabled, waba_id, phone_number_id, display_phone_number, wa_status,
	connected_at, meta_app_id, onboarding_phone, wa_access_token, meta_app_secret,
	webhook_verify_token, webhook_verify_token_hash, created_at, updated_at`

// BusinessProfile is the onboarding-collected part of a business.
type BusinessProfile struct {
	Name           string
	Services       model.Services
	Areas          model.Areas
	OperatingHours model.OperatingHours
	BookingMethod  string
}

// WhatsAppCredentials is an encrypted credential set for a tenant.
type WhatsAppCredentials struct {
	WabaID             string
	PhoneNumberID      string
	DisplayPhoneNumber string
	MetaAppID          string
	AccessToken        model.Secret
	AppSecret          model.Secret
	VerifyToken        model.Secret
	VerifyTokenHash    string
}

func (s *Store) getBusiness(ctx context.Context, where string, args ...any) (*model.Business, error) {
	var b model.Business
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE ` + where + ` LIMIT 1`
	if err := s.db.GetContext(ctx, &b, query, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return &b, nil
}

// GetBusiness returns the business with id, or nil.
func (s *Store) GetBusiness(ctx context.Context, id int64) (*model.Business, error) {
	return s.getBusiness(ctx, `id = ?`, id)
}

// GetBusinessByPhoneNumberID returns the connected business that owns phoneNumberID, or nil.
func (s *Store) GetBusinessByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Business, error) {
	if phoneNumberID == "" {
		return nil, nil
	}
	return s.getBusiness(ctx, `phone_number_id = ? AND wa_status = ?`, phoneNumberID, model.WAStatusConnected)
}

// GetBusinessByOwnerPhone returns the business registered under an owner phone, or nil.
func (s *Store) GetBusinessByOwnerPhone(ctx context.Context, phone string) (*model.Business, error) {
	return s.getBusiness(ctx, `phone_number = ?`, phone)
}

// GetBusinessByVerifyTokenHash returns the business whose webhook verify token hashes to hash, or nil.
func (s *Store) GetBusinessByVerifyTokenHash(ctx context.Context, hash string) (*model.Business, error) {
	if hash == "" {
		return nil, nil
	}
	return s.getBusiness(ctx, `webhook_verify_token_hash = ?`, hash)
}

// FirstOnboardedBusiness returns the oldest onboarded business, or nil.
func (s *Store) FirstOnboardedBusiness(ctx context.Context) (*model.Business, error) {
	return s.getBusiness(ctx, `is_onboarded = 1 ORDER BY id ASC`)
}

// ListBusinesses returns all businesses ordered by id.
func (s *Store) ListBusinesses(ctx context.Context) ([]model.Business, error) {
	businesses := []model.Business{}
	query := `SELECT ` + businessColumns + ` FROM businesses ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &businesses, query); err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	return businesses, nil
}

// CreateBusiness inserts b and fills its id and timestamps.
func (s *Store) CreateBusiness(ctx context.Context, b *model.Business) error {
	now := s.now()
	if b.WAStatus == "" {
		b.WAStatus = model.WAStatusPendingConnect
	}
	b.CreatedAt, b.UpdatedAt = now, now

	res, err := s.db.NamedExecContext(ctx, `INSERT INTO businesses (
		phone_number, name, services, areas, operating_hours, booking_method,
		is_onboarded, llm_enabled, waba_id, phone_number_id, display_phone_number, wa_status,
		connected_at, meta_app_id, onboarding_phone, wa_access_token, meta_app_secret,
		webhook_verify_token, webhook_verify_token_hash, created_at, updated_at
	) VALUES (
		:phone_number, :name, :services, :areas, :operating_hours, :booking_method,
		:is_onboarded, :llm_enabled, :waba_id, :phone_number_id, :display_phone_number, :wa_status,
		:connected_at, :meta_app_id, :onboarding_phone, :wa_access_token, :meta_app_secret,
		:webhook_verify_token, :webhook_verify_token_hash, :created_at, :updated_at
	)`, b)
	if err != nil {
		return fmt.Errorf("failed to create business: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read business id: %w", err)
	}
	b.ID = id
	return nil
}

// LockOnboarding claims the business onboarding slot for phone. It returns false
// when another phone already holds it.
func (s *Store) LockOnboarding(ctx context.Context, businessID int64, phone string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET onboarding_phone = ?, updated_at = ?
		WHERE id = ? AND (onboarding_phone IS NULL OR onboarding_phone = '' OR onboarding_phone = ?)`,
		phone, s.now(), businessID, phone)
	if err != nil {
		return false, fmt.Errorf("failed to lock onboarding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateWhatsAppCredentials stores a new credential set and marks the business connected.
func (s *Store) UpdateWhatsAppCredentials(ctx context.Context, businessID int64, creds WhatsAppCredentials) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET
		waba_id = ?, phone_number_id = ?, display_phone_number = ?, meta_app_id = ?,
		wa_access_token = ?, meta_app_secret = ?, webhook_verify_token = ?, webhook_verify_token_hash = ?,
		wa_status = ?, connected_at = ?, updated_at = ?
		WHERE id = ?`,
		model.StringPtr(creds.WabaID), model.StringPtr(creds.PhoneNumberID),
		model.StringPtr(creds.DisplayPhoneNumber), model.StringPtr(creds.MetaAppID),
		creds.AccessToken, creds.AppSecret, creds.VerifyToken, creds.VerifyTokenHash,
		model.WAStatusConnected, now, now, businessID)
	if err != nil {
		return fmt.Errorf("failed to update whatsapp credentials: %w", err)
	}
	return expectOne(res, "business")
}

// DisconnectWhatsApp disables the business WhatsApp connection and clears its access token.
func (s *Store) DisconnectWhatsApp(ctx context.Context, businessID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET wa_status = ?, wa_access_token = '', updated_at = ?
		WHERE id = ?`, model.WAStatusDisabled, s.now(), businessID)
	if err != nil {
		return fmt.Errorf("failed to disconnect whatsapp: %w", err)
	}
	return expectOne(res, "business")
}

// SetLLMEnabled toggles the LLM tier for a business.
func (s *Store) SetLLMEnabled(ctx context.Context, businessID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET llm_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, s.now(), businessID)
	if err != nil {
		return fmt.Errorf("failed to update llm flag: %w", err)
	}
	return expectOne(res, "business")
}

// ResetOnboarding releases the onboarding lock and marks the business not onboarded.
// Any in-progress onboarding of the locked phone is dropped.
func (s *Store) ResetOnboarding(ctx context.Context, businessID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var phone *string
		if err := tx.GetContext(ctx, &phone, `SELECT onboarding_phone FROM businesses WHERE id = ?`, businessID); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("business %d: %w", businessID, ErrNotFound)
			}
			return fmt.Errorf("failed to read onboarding lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE businesses SET onboarding_phone = NULL, is_onboarded = 0, updated_at = ? WHERE id = ?`,
			s.now(), businessID); err != nil {
			return fmt.Errorf("failed to clear onboarding lock: %w", err)
		}
		if p := model.StringValue(phone); p != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM onboarding_states WHERE phone_number = ? AND is_complete = 0`, p); err != nil {
				return fmt.Errorf("failed to delete onboarding state: %w", err)
			}
		}
		return nil
	})
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// PhoneNumberIDInUse reports whether another business already claims phoneNumberID.
func (s *Store) PhoneNumberIDInUse(ctx context.Context, phoneNumberID string, exceptID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM businesses WHERE phone_number_id = ? AND id != ?`,
		phoneNumberID, exceptID)
	if err != nil {
		return false, fmt.Errorf("failed to check phone number id: %w", err)
	}
	return n > 0, nil
}
