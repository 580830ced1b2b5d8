package recipes

import (
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"

	"github.com/temirov/corpusmigrate/internal/versioning"
)

// Detector kinds accepted in DetectorRecipe.Kind.
const (
	DetectorKindMarker    = "marker"
	DetectorKindYAMLField = "yaml_field"
	DetectorKindFixed     = "fixed"
)

const (
	mapstructureTagNameConstant          = "mapstructure"
	detectorRecipeLabelTemplateConstant  = "detector %d (%s)"
	detectorOptionsErrorTemplateConstant = "detector %d (%s): invalid options: %w"
	detectorBuildErrorTemplateConstant   = "detector %d (%s): %w"
)

// DetectorRecipe declares one version detector.
type DetectorRecipe struct {
	Kind    string         `mapstructure:"kind" validate:"required,oneof=marker yaml_field fixed"`
	Ceiling int            `mapstructure:"ceiling" validate:"gte=0"`
	Options map[string]any `mapstructure:"options"`
}

type markerDetectorOptions struct {
	Expression string `mapstructure:"expression" validate:"required"`
}

type yamlFieldDetectorOptions struct {
	Field string `mapstructure:"field" validate:"required"`
}

type fixedDetectorOptions struct {
	Version int `mapstructure:"version" validate:"gte=0"`
}

// BuildDetector constructs the detector described by recipe. Index identifies the recipe in errors.
func BuildDetector(index int, recipe DetectorRecipe) (versioning.VersionDetector, error) {
	recipe.Kind = strings.ToLower(strings.TrimSpace(recipe.Kind))
	if validationError := validateRecipe(fmt.Sprintf(detectorRecipeLabelTemplateConstant, index, recipe.Kind), recipe); validationError != nil {
		return nil, validationError
	}

	switch recipe.Kind {
	case DetectorKindMarker:
		var options markerDetectorOptions
		if decodeError := decodeDetectorOptions(index, recipe, &options); decodeError != nil {
			return nil, decodeError
		}
		detector, buildError := versioning.NewMarkerDetector(options.Expression, recipe.Ceiling)
		if buildError != nil {
			return nil, fmt.Errorf(detectorBuildErrorTemplateConstant, index, recipe.Kind, buildError)
		}
		return detector, nil
	case DetectorKindYAMLField:
		var options yamlFieldDetectorOptions
		if decodeError := decodeDetectorOptions(index, recipe, &options); decodeError != nil {
			return nil, decodeError
		}
		detector, buildError := versioning.NewYAMLFieldDetector(options.Field, recipe.Ceiling)
		if buildError != nil {
			return nil, fmt.Errorf(detectorBuildErrorTemplateConstant, index, recipe.Kind, buildError)
		}
		return detector, nil
	default:
		var options fixedDetectorOptions
		if decodeError := decodeDetectorOptions(index, recipe, &options); decodeError != nil {
			return nil, decodeError
		}
		return versioning.NewFixedVersionDetector(options.Version, recipe.Ceiling), nil
	}
}

func decodeDetectorOptions(index int, recipe DetectorRecipe, target any) error {
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          mapstructureTagNameConstant,
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if decoderError != nil {
		return fmt.Errorf(detectorOptionsErrorTemplateConstant, index, recipe.Kind, decoderError)
	}
	if decodeError := decoder.Decode(recipe.Options); decodeError != nil {
		return fmt.Errorf(detectorOptionsErrorTemplateConstant, index, recipe.Kind, decodeError)
	}
	if validationError := newStructValidator().Struct(target); validationError != nil {
		return fmt.Errorf(detectorOptionsErrorTemplateConstant, index, recipe.Kind, validationError)
	}
	return nil
}
