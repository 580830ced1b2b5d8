package recipes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/temirov/corpusmigrate/internal/migration"
)

const (
	versionPlaceholderConstant                = "{version}"
	strategyRecipeLabelTemplateConstant       = "strategy %q"
	strategyNotAdvancingTemplateConstant      = "strategy %q: source version %d is not below target version %d"
	expressionCompileErrorTemplateConstant    = "strategy %q: invalid %s expression %q: %w"
	markerGroupErrorTemplateConstant          = "strategy %q: version marker pattern %q must declare a capture group"
	markerMissingErrorTemplateConstant        = "%w: %s"
	markerMissingMessageConstant              = "version marker not found"
	replacementExpressionKindConstant         = "replacement"
	identityExpressionKindConstant            = "identity"
	markerPatternExpressionKindConstant       = "version marker"
	markerInsertAfterExpressionKindConstant   = "version marker insertion"
	markerInsertionLocationSeparatorConstant  = " or "
	markerPatternLocationTemplateConstant     = "pattern %q"
	markerInsertAfterLocationTemplateConstant = "anchor %q"
)

// ErrVersionMarkerMissing is returned when a recipe can neither rewrite nor insert the version marker.
var ErrVersionMarkerMissing = errors.New(markerMissingMessageConstant)

// ReplacementRecipe rewrites every match of Pattern with Replacement, which may reference groups as $1.
type ReplacementRecipe struct {
	Pattern     string `mapstructure:"pattern" validate:"required"`
	Replacement string `mapstructure:"replacement"`
}

// IdentityRecipe rewrites the artifact identity.
type IdentityRecipe struct {
	Pattern     string `mapstructure:"pattern" validate:"required"`
	Replacement string `mapstructure:"replacement"`
}

// VersionMarkerRecipe describes where the produced version is written.
//
// When Pattern matches, its first capture group is replaced by the new
// version. Otherwise Template, with {version} substituted, is inserted after
// the first match of InsertAfter.
type VersionMarkerRecipe struct {
	Pattern     string `mapstructure:"pattern"`
	InsertAfter string `mapstructure:"insert_after" validate:"required_with=Template"`
	Template    string `mapstructure:"template" validate:"required_with=InsertAfter"`
}

// StrategyRecipe declares one migration step.
type StrategyRecipe struct {
	Name          string              `mapstructure:"name" validate:"required"`
	From          []int               `mapstructure:"from" validate:"required,min=1,dive,gte=0"`
	To            int                 `mapstructure:"to" validate:"gte=0"`
	Replacements  []ReplacementRecipe `mapstructure:"replacements" validate:"dive"`
	Identity      *IdentityRecipe     `mapstructure:"identity"`
	VersionMarker VersionMarkerRecipe `mapstructure:"version_marker"`
}

type compiledReplacement struct {
	expression  *regexp.Regexp
	replacement []byte
}

// RecipeStrategy implements migration.MigrationStrategy from a StrategyRecipe.
type RecipeStrategy struct {
	descriptor          migration.StrategyDescriptor
	replacements        []compiledReplacement
	identityExpression  *regexp.Regexp
	identityReplacement string
	markerExpression    *regexp.Regexp
	insertAfter         *regexp.Regexp
	markerTemplate      string
}

// NewRecipeStrategy validates and compiles recipe.
func NewRecipeStrategy(recipe StrategyRecipe) (*RecipeStrategy, error) {
	recipe.Name = strings.TrimSpace(recipe.Name)
	if validationError := validateRecipe(fmt.Sprintf(strategyRecipeLabelTemplateConstant, recipe.Name), recipe); validationError != nil {
		return nil, validationError
	}
	for _, fromVersion := range recipe.From {
		if fromVersion >= recipe.To {
			return nil, fmt.Errorf(strategyNotAdvancingTemplateConstant, recipe.Name, fromVersion, recipe.To)
		}
	}

	strategy := &RecipeStrategy{
		descriptor: migration.StrategyDescriptor{
			Name:         recipe.Name,
			FromVersions: append([]int(nil), recipe.From...),
			ToVersion:    recipe.To,
		},
		markerTemplate: recipe.VersionMarker.Template,
	}

	for _, replacementRecipe := range recipe.Replacements {
		expression, compileError := compileExpression(recipe.Name, replacementExpressionKindConstant, replacementRecipe.Pattern)
		if compileError != nil {
			return nil, compileError
		}
		strategy.replacements = append(strategy.replacements, compiledReplacement{
			expression:  expression,
			replacement: []byte(replacementRecipe.Replacement),
		})
	}

	if recipe.Identity != nil {
		expression, compileError := compileExpression(recipe.Name, identityExpressionKindConstant, recipe.Identity.Pattern)
		if compileError != nil {
			return nil, compileError
		}
		strategy.identityExpression = expression
		strategy.identityReplacement = recipe.Identity.Replacement
	}

	if len(recipe.VersionMarker.Pattern) > 0 {
		expression, compileError := compileExpression(recipe.Name, markerPatternExpressionKindConstant, recipe.VersionMarker.Pattern)
		if compileError != nil {
			return nil, compileError
		}
		if expression.NumSubexp() < 1 {
			return nil, fmt.Errorf(markerGroupErrorTemplateConstant, recipe.Name, recipe.VersionMarker.Pattern)
		}
		strategy.markerExpression = expression
	}

	if len(recipe.VersionMarker.InsertAfter) > 0 {
		expression, compileError := compileExpression(recipe.Name, markerInsertAfterExpressionKindConstant, recipe.VersionMarker.InsertAfter)
		if compileError != nil {
			return nil, compileError
		}
		strategy.insertAfter = expression
	}

	return strategy, nil
}

// Descriptor returns the strategy name and versions.
func (strategy *RecipeStrategy) Descriptor() migration.StrategyDescriptor {
	return strategy.descriptor
}

// Apply rewrites the document and stamps the produced version.
func (strategy *RecipeStrategy) Apply(executionContext context.Context, document migration.Document) (migration.Document, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return document, contextError
	}

	content := document.Content
	for _, replacement := range strategy.replacements {
		content = replacement.expression.ReplaceAll(content, replacement.replacement)
	}

	markedContent, markerError := strategy.stampVersion(content)
	if markerError != nil {
		return document, markerError
	}

	if strategy.identityExpression != nil {
		document.Identity = strategy.identityExpression.ReplaceAllString(document.Identity, strategy.identityReplacement)
	}
	document.Content = markedContent
	document.Version = strategy.descriptor.ToVersion
	return document, nil
}

func (strategy *RecipeStrategy) stampVersion(content []byte) ([]byte, error) {
	if strategy.markerExpression == nil && strategy.insertAfter == nil {
		return content, nil
	}

	renderedVersion := []byte(strconv.Itoa(strategy.descriptor.ToVersion))

	if strategy.markerExpression != nil {
		submatchIndexes := strategy.markerExpression.FindSubmatchIndex(content)
		if len(submatchIndexes) >= 4 && submatchIndexes[2] >= 0 {
			stamped := make([]byte, 0, len(content)+len(renderedVersion))
			stamped = append(stamped, content[:submatchIndexes[2]]...)
			stamped = append(stamped, renderedVersion...)
			stamped = append(stamped, content[submatchIndexes[3]:]...)
			return stamped, nil
		}
	}

	if strategy.insertAfter != nil {
		anchorIndexes := strategy.insertAfter.FindIndex(content)
		if anchorIndexes != nil {
			marker := bytes.ReplaceAll([]byte(strategy.markerTemplate), []byte(versionPlaceholderConstant), renderedVersion)
			stamped := make([]byte, 0, len(content)+len(marker))
			stamped = append(stamped, content[:anchorIndexes[1]]...)
			stamped = append(stamped, marker...)
			stamped = append(stamped, content[anchorIndexes[1]:]...)
			return stamped, nil
		}
	}

	return nil, fmt.Errorf(markerMissingErrorTemplateConstant, ErrVersionMarkerMissing, strategy.markerLocations())
}

func (strategy *RecipeStrategy) markerLocations() string {
	locations := make([]string, 0, 2)
	if strategy.markerExpression != nil {
		locations = append(locations, fmt.Sprintf(markerPatternLocationTemplateConstant, strategy.markerExpression.String()))
	}
	if strategy.insertAfter != nil {
		locations = append(locations, fmt.Sprintf(markerInsertAfterLocationTemplateConstant, strategy.insertAfter.String()))
	}
	return strings.Join(locations, markerInsertionLocationSeparatorConstant)
}

func compileExpression(strategyName string, expressionKind string, pattern string) (*regexp.Regexp, error) {
	expression, compileError := regexp.Compile(pattern)
	if compileError != nil {
		return nil, fmt.Errorf(expressionCompileErrorTemplateConstant, strategyName, expressionKind, pattern, compileError)
	}
	return expression, nil
}
