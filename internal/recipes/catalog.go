package recipes

import (
	"errors"
	"fmt"

	"github.com/temirov/corpusmigrate/internal/migration"
)

const (
	engineRequiredMessageConstant         = "migration engine must be provided"
	detectorRegisterErrorTemplateConstant = "detector %d (%s): %w"
	strategyRegisterErrorTemplateConstant = "strategy %q: %w"
)

// ErrEngineRequired is returned when a catalog is installed on a nil engine.
var ErrEngineRequired = errors.New(engineRequiredMessageConstant)

// Catalog groups the detector and strategy recipes of one corpus format.
type Catalog struct {
	Detectors  []DetectorRecipe `mapstructure:"detectors"`
	Strategies []StrategyRecipe `mapstructure:"strategies"`
}

// Install builds every recipe and registers it on engine, in declaration order.
func (catalog Catalog) Install(engine *migration.Engine) error {
	if engine == nil {
		return ErrEngineRequired
	}

	for detectorIndex, detectorRecipe := range catalog.Detectors {
		detector, buildError := BuildDetector(detectorIndex, detectorRecipe)
		if buildError != nil {
			return buildError
		}
		if registerError := engine.RegisterVersionStrategy(detector); registerError != nil {
			return fmt.Errorf(detectorRegisterErrorTemplateConstant, detectorIndex, detectorRecipe.Kind, registerError)
		}
	}

	for _, strategyRecipe := range catalog.Strategies {
		strategy, buildError := NewRecipeStrategy(strategyRecipe)
		if buildError != nil {
			return buildError
		}
		if registerError := engine.RegisterMigrationStrategy(strategy); registerError != nil {
			return fmt.Errorf(strategyRegisterErrorTemplateConstant, strategyRecipe.Name, registerError)
		}
	}
	return nil
}
