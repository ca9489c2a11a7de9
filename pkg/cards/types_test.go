package cards

import (
	"errors"
	"testing"
)

func TestNewCardKey(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		input   [3]string
		wantErr error
		want    CardKey
	}{
		{name: "valid", input: [3]string{" Pikachu ", "Electric", "Common"}, want: CardKey{Name: "Pikachu", Type: "Electric", Rarity: "Common"}},
		{name: "empty name", input: [3]string{"", "Electric", "Common"}, wantErr: ErrInvalidArgument},
		{name: "empty type", input: [3]string{"Pikachu", " ", "Common"}, wantErr: ErrInvalidArgument},
		{name: "empty rarity", input: [3]string{"Pikachu", "Electric", ""}, wantErr: ErrInvalidArgument},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewCardKey(tc.input[0], tc.input[1], tc.input[2])
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					test.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result != tc.want {
				test.Fatalf("expected %+v, got %+v", tc.want, result)
			}
		})
	}
}

func TestParseTradeKind(test *testing.T) {
	test.Parallel()
	kind, err := ParseTradeKind("sell")
	if err != nil || kind != TradeSell {
		test.Fatalf("expected sell, got %q (%v)", kind, err)
	}
	if _, err := ParseTradeKind("refund"); !errors.Is(err, ErrInvalidTradeKind) {
		test.Fatalf("expected ErrInvalidTradeKind, got %v", err)
	}
}

func TestAccountInputValidateTrims(test *testing.T) {
	test.Parallel()
	input := AccountInput{FirstName: "  Misty ", UserName: " misty "}
	if err := input.Validate(); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if input.FirstName != "Misty" || input.UserName != "misty" {
		test.Fatalf("expected trimmed input, got %+v", input)
	}
}

func TestValidateAmount(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "zero", raw: "0"},
		{name: "zero with huge exponent", raw: "0e-20000000"},
		{name: "two places", raw: "12.50"},
		{name: "trailing zeros past scale", raw: "1.50000000000"},
		{name: "full scale", raw: "0.00000001"},
		{name: "integer digit limit", raw: "9999999999999999.99999999"},
		{name: "negative", raw: "-1", wantErr: true},
		{name: "too many places", raw: "0.000000001", wantErr: true},
		{name: "too many integer digits", raw: "12345678901234567", wantErr: true},
		{name: "tiny exponent", raw: "1e-20000000", wantErr: true},
		{name: "huge exponent", raw: "1e20000000", wantErr: true},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			err := ValidateAmount("price", mustDecimal(test, testCase.raw))
			if testCase.wantErr && !errors.Is(err, ErrInvalidArgument) {
				test.Fatalf(errorMismatchMessage, ErrInvalidArgument, err)
			}
			if !testCase.wantErr && err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAccountInputValidateBoundsBalance(test *testing.T) {
	test.Parallel()
	input := AccountInput{UserName: "misty", Balance: mustDecimal(test, "1e20000000")}
	if err := input.Validate(); !errors.Is(err, ErrInvalidArgument) {
		test.Fatalf(errorMismatchMessage, ErrInvalidArgument, err)
	}
}
