package recipes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultIdentifierPatternConstant admits identities built from letters, digits, and the separators "_", "-", ".".
	DefaultIdentifierPatternConstant = `^[A-Za-z0-9][A-Za-z0-9_.\-]*$`
	// DefaultIdentifierRulesConstant is the validator tag expression applied to every identity.
	DefaultIdentifierRulesConstant = "required,max=128,identifier"

	identifierTagConstant                  = "identifier"
	identifierPatternErrorTemplateConstant = "invalid identifier pattern %q: %w"
	identifierRulesErrorTemplateConstant   = "invalid identifier rules %q: %v"
	identifierRejectedTemplateConstant     = "identifier %q violates %s"
	identifierRuleSeparatorConstant        = ","
	recipeStructValidationTemplateConstant = "%s: %w"
)

// ValidatorRecipe configures identity validation.
type ValidatorRecipe struct {
	Pattern string `mapstructure:"pattern"`
	Rules   string `mapstructure:"rules"`
}

// IdentifierValidator checks identities against a go-playground/validator tag expression.
//
// The expression may use the registered "identifier" tag, which matches the
// configured pattern.
type IdentifierValidator struct {
	validate *validator.Validate
	rules    string
}

// NewIdentifierValidator compiles the recipe, falling back to the default pattern and rules.
func NewIdentifierValidator(recipe ValidatorRecipe) (*IdentifierValidator, error) {
	pattern := strings.TrimSpace(recipe.Pattern)
	if len(pattern) == 0 {
		pattern = DefaultIdentifierPatternConstant
	}
	rules := strings.TrimSpace(recipe.Rules)
	if len(rules) == 0 {
		rules = DefaultIdentifierRulesConstant
	}

	identifierExpression, compileError := regexp.Compile(pattern)
	if compileError != nil {
		return nil, fmt.Errorf(identifierPatternErrorTemplateConstant, pattern, compileError)
	}

	validate := newStructValidator()
	_ = validate.RegisterValidation(identifierTagConstant, func(fieldLevel validator.FieldLevel) bool {
		return identifierExpression.MatchString(fieldLevel.Field().String())
	})

	identifierValidator := &IdentifierValidator{validate: validate, rules: rules}
	if rulesError := identifierValidator.checkRules(); rulesError != nil {
		return nil, rulesError
	}
	return identifierValidator, nil
}

// Validate reports why candidate is not an acceptable identity, or nil.
func (identifierValidator *IdentifierValidator) Validate(candidate string) error {
	validationError := identifierValidator.validate.Var(candidate, identifierValidator.rules)
	if validationError == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if castErrors, isFieldErrors := validationError.(validator.ValidationErrors); isFieldErrors {
		fieldErrors = castErrors
	}
	failedTags := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		failedTags = append(failedTags, fieldError.Tag())
	}
	return fmt.Errorf(identifierRejectedTemplateConstant, candidate, strings.Join(failedTags, identifierRuleSeparatorConstant))
}

// Rules returns the tag expression in effect.
func (identifierValidator *IdentifierValidator) Rules() string {
	return identifierValidator.rules
}

// checkRules surfaces unknown tags at construction instead of on the first artifact.
func (identifierValidator *IdentifierValidator) checkRules() (rulesError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			rulesError = fmt.Errorf(identifierRulesErrorTemplateConstant, identifierValidator.rules, recovered)
		}
	}()
	_ = identifierValidator.validate.Var("", identifierValidator.rules)
	return nil
}

func newStructValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func validateRecipe(label string, recipe any) error {
	if validationError := newStructValidator().Struct(recipe); validationError != nil {
		return fmt.Errorf(recipeStructValidationTemplateConstant, label, validationError)
	}
	return nil
}
