package project

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectJSONArtifactStates(t *testing.T) {
	cmd := "python main.py"
	tests := []struct {
		name        string
		project     Project
		launch      ArtifactState
		description ArtifactState
	}{
		{"bare", Project{ID: "a"}, ArtifactNotYetDetermined, ArtifactNotYetDetermined},
		{"launchable", Project{ID: "b", LaunchCommand: &cmd}, ArtifactDetermined, ArtifactNotYetDetermined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(&tt.project)
			require.NoError(t, err)

			var raw map[string]any
			require.NoError(t, json.Unmarshal(data, &raw))
			require.Equal(t, string(tt.launch), raw["launch_state"])
			require.Equal(t, string(tt.description), raw["description_state"])
			require.Equal(t, tt.project.ID, raw["id"])

			var back Project
			require.NoError(t, json.Unmarshal(data, &back))
			require.Equal(t, tt.project.LaunchCommand, back.LaunchCommand)

			ref := tt.project.Ref()
			require.Equal(t, tt.launch, ref.LaunchState)
			require.Equal(t, tt.description, ref.DescriptionState)
		})
	}
}
