package application

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-crowdcheck/infrastructure/llm"
)

var validate = newPolicyValidator()

func newPolicyValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterPolicyValidators(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterPolicyValidators adds the custom tags used by Policy:
//
//	llmprovider  the field names a registered LLM provider
//	modelformat  the field is a plausible model identifier
//
// Both accept the empty string; pair them with required when needed.
func RegisterPolicyValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("llmprovider", validateLLMProvider); err != nil {
		return fmt.Errorf("failed to register llmprovider validator: %w", err)
	}
	if err := v.RegisterValidation("modelformat", validateModelFormat); err != nil {
		return fmt.Errorf("failed to register modelformat validator: %w", err)
	}
	return nil
}

func validateLLMProvider(fl validator.FieldLevel) bool {
	provider := fl.Field().String()
	return provider == "" || slices.Contains(llm.Providers(), provider)
}

// validateModelFormat rejects model names with whitespace or a leading or
// trailing separator. Provider-prefixed names such as "openai/gpt-4o" are
// allowed.
func validateModelFormat(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" {
		return true
	}

	for i, ch := range model {
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			return false
		case (ch == '/' || ch == '@') && (i == 0 || i == len(model)-1):
			return false
		}
	}
	return true
}
