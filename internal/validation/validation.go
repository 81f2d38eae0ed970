package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"box-claims-api/internal/models"
	"box-claims-api/internal/storage"
)

var (
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{3,19}$`)
)

// Money columns hold at most 10 digits with 2 decimal places.
var maxAmount = decimal.RequireFromString("99999999.99")

const (
	maxReferenceLen = 100
	maxBankNameLen  = 100
	maxPhoneLen     = 20
	maxStock        = 1_000_000
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateOfferFields checks the price and stock of a new offer or season.
func ValidateOfferFields(price decimal.Decimal, stock int) error {
	if err := validateMoney(price, "price"); err != nil {
		return err
	}
	return validateStock(stock)
}

// ValidateOfferUpdate checks the fields present in a partial update.
func ValidateOfferUpdate(update models.OfferUpdate) error {
	if update.Price != nil {
		if err := validateMoney(*update.Price, "price"); err != nil {
			return err
		}
	}
	if update.Stock != nil {
		if err := validateStock(*update.Stock); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeClaimInput sanitizes free-text fields, applies the default
// currency and validates the result.
func NormalizeClaimInput(input models.ClaimInput) (models.ClaimInput, error) {
	input.Reference = SanitizeString(input.Reference)
	input.BankName = SanitizeString(input.BankName)
	input.SenderPhone = SanitizeString(input.SenderPhone)
	input.ProofImage = SanitizeString(input.ProofImage)
	if input.Currency == "" {
		input.Currency = models.CurrencyBs
	}

	if err := ValidatePaymentMethod(input.PaymentMethod); err != nil {
		return input, err
	}

	switch input.Currency {
	case models.CurrencyBs, models.CurrencyUSD, models.CurrencyEUR, models.CurrencyPeso:
	default:
		return input, &ValidationError{
			Field:   "currency",
			Message: "must be one of Bs, USD, EUR, Peso",
		}
	}

	if err := validateMoney(input.Amount, "amount"); err != nil {
		return input, err
	}

	if err := validateLength(input.Reference, "reference", maxReferenceLen); err != nil {
		return input, err
	}
	if err := validateLength(input.BankName, "bank_name", maxBankNameLen); err != nil {
		return input, err
	}
	if input.SenderPhone != "" {
		if err := ValidatePhone(input.SenderPhone, "sender_phone"); err != nil {
			return input, err
		}
	}
	if input.ProofImage != "" && !storage.ValidRef(input.ProofImage) {
		return input, &ValidationError{
			Field:   "proof_image",
			Message: "must be a reference returned by the proof upload",
		}
	}

	return input, nil
}

// ValidatePaymentMethod checks the payment method enum.
func ValidatePaymentMethod(method models.PaymentMethod) error {
	switch method {
	case models.PaymentCash, models.PaymentMobile:
		return nil
	case "":
		return &ValidationError{Field: "payment_method", Message: "is required"}
	default:
		return &ValidationError{
			Field:   "payment_method",
			Message: "must be CASH or MOBILE_PAYMENT",
		}
	}
}

// ValidateSupportConfig checks the support contact.
func ValidateSupportConfig(cfg models.SupportConfig) error {
	if cfg.Email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if _, err := mail.ParseAddress(cfg.Email); err != nil {
		return &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if cfg.Phone != "" {
		return ValidatePhone(cfg.Phone, "phone")
	}
	return nil
}

// ValidatePaymentConfig checks the mobile payment account.
func ValidatePaymentConfig(cfg models.PaymentConfig) error {
	if cfg.NationalID == "" {
		return &ValidationError{Field: "national_id", Message: "is required"}
	}
	if err := validateLength(cfg.NationalID, "national_id", 20); err != nil {
		return err
	}
	if err := ValidatePhone(cfg.Phone, "phone"); err != nil {
		return err
	}
	if cfg.Bank == "" {
		return &ValidationError{Field: "bank", Message: "is required"}
	}
	return validateLength(cfg.Bank, "bank", maxBankNameLen)
}

// ValidatePhone checks a loosely formatted phone number.
func ValidatePhone(phone, fieldName string) error {
	if phone == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if len(phone) > maxPhoneLen || !phoneRegex.MatchString(phone) {
		return &ValidationError{Field: fieldName, Message: "must be a valid phone number"}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateUUID checks a canonical version 4 identifier.
func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 4 || len(id) != 36 {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

func validateMoney(amount decimal.Decimal, fieldName string) error {
	if amount.IsNegative() {
		return &ValidationError{Field: fieldName, Message: "must be non-negative"}
	}
	if amount.GreaterThan(maxAmount) {
		return &ValidationError{Field: fieldName, Message: "exceeds maximum allowed amount"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &ValidationError{Field: fieldName, Message: "cannot have more than 2 decimal places"}
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return &ValidationError{Field: "stock", Message: "must be non-negative"}
	}
	if stock > maxStock {
		return &ValidationError{Field: "stock", Message: "exceeds maximum allowed stock"}
	}
	return nil
}

func validateLength(value, fieldName string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", max),
		}
	}
	return nil
}
