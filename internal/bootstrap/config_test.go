package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplemerit/collab-jobs/config"
)

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name      string
		services  string
		expectErr bool
	}{
		{name: "worker only", services: "worker", expectErr: false},
		{name: "both services", services: "worker,reconciler", expectErr: false},
		{name: "unknown service", services: "scheduler", expectErr: true},
		{name: "empty", services: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{Services: tt.services}
			err := ValidateServiceConfig(cfg)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	require.Error(t, ValidateServiceConfig(nil))
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "worker,reconciler"}
	enabled := GetEnabledServices(cfg)
	assert.ElementsMatch(t, []string{"worker", "reconciler"}, enabled)

	assert.Empty(t, GetEnabledServices(nil))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
}
