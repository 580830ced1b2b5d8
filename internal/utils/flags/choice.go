package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

const (
	choicePlaceholderTemplate    = "<%s>"
	choiceSeparatorLiteral       = "|"
	choiceListSeparatorLiteral   = ", "
	choiceUsageTemplate          = "`%s` %s"
	choiceValueTypeName          = "choice"
	unsupportedChoiceErrorFormat = "unsupported value %q; expected one of %s"
)

// FormatChoiceUsage renders the accepted values of an enumerated flag, upper-casing the default.
func FormatChoiceUsage(defaultChoice string, choices []string, description string) string {
	normalizedDefault := normalizeChoice(defaultChoice)
	displayed := make([]string, 0, len(choices))
	for _, choice := range uniqueChoices(choices) {
		if normalizeChoice(choice) == normalizedDefault {
			choice = strings.ToUpper(choice)
		}
		displayed = append(displayed, choice)
	}

	placeholder := fmt.Sprintf(choicePlaceholderTemplate, strings.Join(displayed, choiceSeparatorLiteral))
	trimmedDescription := strings.TrimSpace(description)
	if len(trimmedDescription) == 0 {
		return "`" + placeholder + "`"
	}
	return fmt.Sprintf(choiceUsageTemplate, placeholder, trimmedDescription)
}

// ChoiceValue is a pflag.Value that only accepts one of a fixed set of values, compared case-insensitively.
type ChoiceValue struct {
	target        *string
	defaultChoice string
	choices       []string
}

var _ pflag.Value = (*ChoiceValue)(nil)

// NewChoiceValue binds target to an enumerated flag. The target is left untouched until the flag is set.
func NewChoiceValue(target *string, defaultChoice string, choices []string) *ChoiceValue {
	return &ChoiceValue{target: target, defaultChoice: defaultChoice, choices: uniqueChoices(choices)}
}

// Usage formats the flag description with the accepted values.
func (value *ChoiceValue) Usage(description string) string {
	return FormatChoiceUsage(value.defaultChoice, value.choices, description)
}

// Set stores the canonical spelling of an accepted choice.
func (value *ChoiceValue) Set(raw string) error {
	normalizedRaw := normalizeChoice(raw)
	for _, choice := range value.choices {
		if normalizeChoice(choice) == normalizedRaw {
			*value.target = choice
			return nil
		}
	}
	return fmt.Errorf(unsupportedChoiceErrorFormat, raw, strings.Join(value.choices, choiceListSeparatorLiteral))
}

func (value *ChoiceValue) String() string {
	if value == nil || value.target == nil {
		return ""
	}
	return *value.target
}

// Type names the value in generated help.
func (value *ChoiceValue) Type() string {
	return choiceValueTypeName
}

func uniqueChoices(choices []string) []string {
	unique := make([]string, 0, len(choices))
	seen := make(map[string]struct{}, len(choices))
	for _, choice := range choices {
		trimmedChoice := strings.TrimSpace(choice)
		normalizedChoice := normalizeChoice(trimmedChoice)
		if len(normalizedChoice) == 0 {
			continue
		}
		if _, duplicate := seen[normalizedChoice]; duplicate {
			continue
		}
		seen[normalizedChoice] = struct{}{}
		unique = append(unique, trimmedChoice)
	}
	return unique
}

func normalizeChoice(choice string) string {
	return strings.ToLower(strings.TrimSpace(choice))
}
