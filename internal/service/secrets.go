package service

import (
	"fmt"

	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/model"
	"github.com/sahuti/autoreply/internal/whatsapp"
)

// GlobalCredentials are the deployment-wide WhatsApp settings used when a tenant has none.
type GlobalCredentials struct {
	PhoneNumberID string
	AccessToken   string
	AppSecret     string
	VerifyToken   string
}

// SecretStore turns encrypted business credentials into plaintext at the point of use.
type SecretStore struct {
	encryptor *crypto.CredentialEncryptor
	global    GlobalCredentials
}

// NewSecretStore creates a secret store.
func NewSecretStore(enc *crypto.CredentialEncryptor, global GlobalCredentials) *SecretStore {
	return &SecretStore{encryptor: enc, global: global}
}

// Seal encrypts plaintext for storage.
func (s *SecretStore) Seal(plaintext string) (model.Secret, error) {
	ct, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to seal credential: %w", err)
	}
	return model.Secret(ct), nil
}

// Reveal decrypts a stored secret.
func (s *SecretStore) Reveal(secret model.Secret) (string, error) {
	pt, err := s.encryptor.Decrypt(string(secret))
	if err != nil {
		return "", fmt.Errorf("failed to reveal credential: %w", err)
	}
	return pt, nil
}

// SendCredentials returns the phone number id and access token to send as b.
// Each value falls back to the global one when the tenant has none.
func (s *SecretStore) SendCredentials(b *model.Business) (whatsapp.Credentials, error) {
	creds := whatsapp.Credentials{
		PhoneNumberID: s.global.PhoneNumberID,
		AccessToken:   s.global.AccessToken,
	}
	if b == nil {
		return creds, nil
	}

	if id := model.StringValue(b.PhoneNumberID); id != "" {
		creds.PhoneNumberID = id
	}
	if b.AccessToken.IsSet() {
		token, err := s.Reveal(b.AccessToken)
		if err != nil {
			return whatsapp.Credentials{}, err
		}
		creds.AccessToken = token
	}
	return creds, nil
}

// AppSecret returns the webhook signing secret for b, falling back to the global one.
func (s *SecretStore) AppSecret(b *model.Business) (string, error) {
	if b == nil || !b.AppSecret.IsSet() {
		return s.global.AppSecret, nil
	}
	return s.Reveal(b.AppSecret)
}

// GlobalVerifyToken returns the deployment-wide webhook verify token.
func (s *SecretStore) GlobalVerifyToken() string {
	return s.global.VerifyToken
}

// GlobalPhoneNumberID returns the deployment-wide sending number id.
func (s *SecretStore) GlobalPhoneNumberID() string {
	return s.global.PhoneNumberID
}
