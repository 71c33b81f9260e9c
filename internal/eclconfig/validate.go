package eclconfig

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError 검증 실패 (stage 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validator.New()

// Validate checks all required constraints
// 실패 시 error 반환 (stage 중단)
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ValidationError{
				Field:   strings.ToLower(fe.Namespace()),
				Message: fmt.Sprintf("failed %q (%v)", fe.Tag(), fe.Value()),
			}
		}
		return err
	}

	// === Scenario weights ===
	sum := cfg.Weights.Base + cfg.Weights.Best + cfg.Weights.Worst
	if math.Abs(sum-1) > 1e-6 {
		return ValidationError{"scenario_weights", fmt.Sprintf("must sum to 1, got %.6f", sum)}
	}

	// === Currency ===
	if cfg.Currency.FXSource == FXSourceAPI && cfg.Currency.Reporting == "" {
		return ValidationError{"currency.reporting_currency", "required when fx_source=API"}
	}

	return nil
}
