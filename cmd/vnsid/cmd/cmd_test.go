package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/pkg/version"
)

func TestApplyServeFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{
			name: "unset flags keep config",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 34890, cfg.Server.Port)
				assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)
			},
		},
		{
			name: "overrides",
			args: []string{"--port", "4000", "--listen", "127.0.0.1", "--seed", "lineup.yaml", "--allowed-hosts", "hosts.conf"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 4000, cfg.Server.Port)
				assert.Equal(t, "127.0.0.1", cfg.Server.ListenAddr)
				assert.Equal(t, "lineup.yaml", cfg.Store.SeedFile)
				assert.Equal(t, "hosts.conf", cfg.Server.AllowedHostsFile)
			},
		},
		{
			name:    "invalid port",
			args:    []string{"--port", "70000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			addServeFlags(flags)
			require.NoError(t, flags.Parse(tt.args))

			cfg := config.Default()
			err := applyServeFlags(flags, cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version.GetInfo().String()+"\n", out.String())
}
