package recipes

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/internal/versioning"
)

func TestBuildDetector(testInstance *testing.T) {
	testCases := []struct {
		name            string
		recipe          DetectorRecipe
		content         string
		expectedCeiling int
		expectedVersion int
		expectedFound   bool
	}{
		{
			name: "marker",
			recipe: DetectorRecipe{
				Kind:    DetectorKindMarker,
				Ceiling: 5,
				Options: map[string]any{"expression": `<version number="(\d+)"/>`},
			},
			content:         testMarkedDocumentConstant,
			expectedCeiling: 5,
			expectedVersion: 1,
			expectedFound:   true,
		},
		{
			name: "marker_absent",
			recipe: DetectorRecipe{
				Kind:    DetectorKindMarker,
				Ceiling: 5,
				Options: map[string]any{"expression": `<version number="(\d+)"/>`},
			},
			content:         testUnmarkedDocumentConstant,
			expectedCeiling: 5,
		},
		{
			name: "yaml_field",
			recipe: DetectorRecipe{
				Kind:    " YAML_Field ",
				Ceiling: 3,
				Options: map[string]any{"field": "metadata.schema_version"},
			},
			content:         "metadata:\n  schema_version: 3\n",
			expectedCeiling: 3,
			expectedVersion: 3,
			expectedFound:   true,
		},
		{
			name: "fixed_weakly_typed",
			recipe: DetectorRecipe{
				Kind:    DetectorKindFixed,
				Options: map[string]any{"version": "0"},
			},
			content:       testAnchorlessDocumentConstant,
			expectedFound: true,
		},
		{
			name:          "fixed_without_options",
			recipe:        DetectorRecipe{Kind: DetectorKindFixed},
			content:       testAnchorlessDocumentConstant,
			expectedFound: true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(recipeSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			detector, buildError := BuildDetector(testCaseIndex, testCase.recipe)
			require.NoError(testInstance, buildError)
			require.Equal(testInstance, testCase.expectedCeiling, detector.Ceiling())

			version, found := detector.DetectVersion(versioning.Artifact{Path: testArtifactPathConstant, Content: []byte(testCase.content)}).Version()
			require.Equal(testInstance, testCase.expectedFound, found)
			require.Equal(testInstance, testCase.expectedVersion, version)
		})
	}
}

func TestBuildDetectorRejectsInvalidRecipes(testInstance *testing.T) {
	testCases := []struct {
		name            string
		recipe          DetectorRecipe
		expectedMessage string
	}{
		{
			name:            "unknown_kind",
			recipe:          DetectorRecipe{Kind: "xpath"},
			expectedMessage: "'Kind' failed on the 'oneof' tag",
		},
		{
			name:            "negative_ceiling",
			recipe:          DetectorRecipe{Kind: DetectorKindFixed, Ceiling: -1},
			expectedMessage: "'Ceiling' failed on the 'gte' tag",
		},
		{
			name:            "missing_expression",
			recipe:          DetectorRecipe{Kind: DetectorKindMarker},
			expectedMessage: "'Expression' failed on the 'required' tag",
		},
		{
			name: "unknown_option",
			recipe: DetectorRecipe{
				Kind:    DetectorKindYAMLField,
				Options: map[string]any{"field": "version", "path": "version"},
			},
			expectedMessage: "invalid options",
		},
		{
			name: "expression_without_group",
			recipe: DetectorRecipe{
				Kind:    DetectorKindMarker,
				Options: map[string]any{"expression": "version"},
			},
			expectedMessage: "must declare a capture group",
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(recipeSubtestTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			detector, buildError := BuildDetector(testCaseIndex, testCase.recipe)
			require.Error(testInstance, buildError)
			require.Nil(testInstance, detector)
			require.Contains(testInstance, buildError.Error(), testCase.expectedMessage)
		})
	}
}
