package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"box-claims-api/internal/models"
)

func TestValidateOfferFields(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		stock   int
		wantErr bool
	}{
		{"valid", "20.00", 5, false},
		{"zero price and stock", "0", 0, false},
		{"negative price", "-1", 5, true},
		{"three decimals", "1.005", 5, true},
		{"too large", "100000000", 5, true},
		{"negative stock", "1", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOfferFields(decimal.RequireFromString(tt.price), tt.stock)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOfferFields() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeClaimInput(t *testing.T) {
	input := models.ClaimInput{
		PaymentMethod: models.PaymentMobile,
		Amount:        decimal.RequireFromString("20.00"),
		Reference:     "  REF-1\x00 ",
		SenderPhone:   "+58 414-1234567",
	}

	got, err := NormalizeClaimInput(input)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Currency != models.CurrencyBs {
		t.Errorf("Expected default currency Bs, got %s", got.Currency)
	}
	if got.Reference != "REF-1" {
		t.Errorf("Expected sanitized reference, got %q", got.Reference)
	}

	input.ProofImage = "550e8400-e29b-41d4-a716-446655440000.png"
	if _, err := NormalizeClaimInput(input); err != nil {
		t.Errorf("Unexpected error for stored proof reference: %v", err)
	}
}

func TestNormalizeClaimInput_Errors(t *testing.T) {
	base := models.ClaimInput{
		PaymentMethod: models.PaymentCash,
		Amount:        decimal.RequireFromString("5"),
		Currency:      models.CurrencyUSD,
	}

	tests := []struct {
		name   string
		mutate func(*models.ClaimInput)
		field  string
	}{
		{"missing method", func(in *models.ClaimInput) { in.PaymentMethod = "" }, "payment_method"},
		{"unknown method", func(in *models.ClaimInput) { in.PaymentMethod = "CHEQUE" }, "payment_method"},
		{"unknown currency", func(in *models.ClaimInput) { in.Currency = "BTC" }, "currency"},
		{"negative amount", func(in *models.ClaimInput) { in.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"long reference", func(in *models.ClaimInput) { in.Reference = strings.Repeat("x", 101) }, "reference"},
		{"bad phone", func(in *models.ClaimInput) { in.SenderPhone = "call me" }, "sender_phone"},
		{"foreign proof", func(in *models.ClaimInput) { in.ProofImage = "../../etc/passwd" }, "proof_image"},
		{"proof without extension", func(in *models.ClaimInput) { in.ProofImage = "550e8400-e29b-41d4-a716-446655440000" }, "proof_image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := base
			tt.mutate(&input)
			_, err := NormalizeClaimInput(input)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestValidateSupportConfig(t *testing.T) {
	if err := ValidateSupportConfig(models.SupportConfig{Email: "help@example.com", Phone: "+58 212 5550000"}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateSupportConfig(models.SupportConfig{Email: "not-an-email"}); err == nil {
		t.Error("Expected error for invalid email")
	}
}

func TestValidateUUID(t *testing.T) {
	if err := ValidateUUID("550e8400-e29b-41d4-a716-446655440000", "id"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateUUID("nope", "id"); err == nil {
		t.Error("Expected error for invalid UUID")
	}
	if err := ValidateUUID("", "id"); err == nil {
		t.Error("Expected error for empty UUID")
	}
	if err := ValidateUUID("{550e8400-e29b-41d4-a716-446655440000}", "id"); err == nil {
		t.Error("Expected error for non-canonical UUID")
	}
}
