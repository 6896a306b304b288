package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// maxWhatsAppText is the Graph API limit for a text message body.
const maxWhatsAppText = 4096

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct checks v against its validate tags and returns a readable error.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidatePhone validates an E.164 number without the leading plus, as WhatsApp sends them.
func ValidatePhone(phone string) error {
	if err := validate.Var(phone, "required,number,min=8,max=15"); err != nil {
		return errors.New("invalid phone number")
	}
	return nil
}

// ValidateMessageContent validates an outbound text body.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxWhatsAppText {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}
