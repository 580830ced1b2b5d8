package utils_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/corpusmigrate/internal/utils"
)

func TestCommandContextAccessorConfigurationSource(t *testing.T) {
	accessor := utils.NewCommandContextAccessor()

	testCases := []struct {
		name             string
		context          func() context.Context
		expectedPath     string
		expectedRecorded bool
		expectedSource   string
	}{
		{
			name:           "nothing_recorded",
			context:        context.Background,
			expectedSource: "embedded defaults",
		},
		{
			name: "empty_path_means_embedded_defaults",
			context: func() context.Context {
				return accessor.WithConfigurationFilePath(context.Background(), "")
			},
			expectedSource: "embedded defaults",
		},
		{
			name: "recorded_file",
			context: func() context.Context {
				return accessor.WithConfigurationFilePath(context.Background(), "/home/user/.config/corpus-migrate/config.yaml")
			},
			expectedPath:     "/home/user/.config/corpus-migrate/config.yaml",
			expectedRecorded: true,
			expectedSource:   "/home/user/.config/corpus-migrate/config.yaml",
		},
		{
			name: "nil_parent_context",
			context: func() context.Context {
				//nolint:staticcheck // nil parent is accepted and replaced with Background.
				return accessor.WithConfigurationFilePath(nil, "config.yaml")
			},
			expectedPath:     "config.yaml",
			expectedRecorded: true,
			expectedSource:   "config.yaml",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			executionContext := testCase.context()
			path, recorded := accessor.ConfigurationFilePath(executionContext)
			require.Equal(t, testCase.expectedPath, path)
			require.Equal(t, testCase.expectedRecorded, recorded)
			require.Equal(t, testCase.expectedSource, accessor.ConfigurationSource(executionContext))
		})
	}
}
