package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhone(t *testing.T) {
	for _, phone := range []string{"60123456789", "14155550123", "12345678"} {
		assert.NoError(t, ValidatePhone(phone), phone)
	}
	for _, phone := range []string{"", "+60123456789", "6012-345", "1234567", "1234567890123456", "abcdefghij"} {
		assert.Error(t, ValidatePhone(phone), phone)
	}
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("Hello there"))
	assert.NoError(t, ValidateMessageContent(strings.Repeat("é", maxWhatsAppText)))

	assert.Error(t, ValidateMessageContent("   "))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", maxWhatsAppText+1)))
	assert.Error(t, ValidateMessageContent("bad \xff byte"))
}

func TestValidateStruct(t *testing.T) {
	type request struct {
		ID    string `validate:"required,numeric"`
		Token string `validate:"omitempty,min=8"`
	}

	require.NoError(t, ValidateStruct(request{ID: "123"}))

	err := ValidateStruct(request{ID: "abc", Token: "short"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id failed numeric")
	assert.Contains(t, err.Error(), "token failed min")
}
