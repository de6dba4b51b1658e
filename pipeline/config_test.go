package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/s3dokan/errkind"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 8, config.Workers)
	assert.Equal(t, int64(5*1024*1024), config.BlockSize)
	require.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{Workers: 1, BlockSize: 1}},
		{name: "no workers", config: Config{Workers: 0, BlockSize: MiB}, wantErr: true},
		{name: "zero block size", config: Config{Workers: 8, BlockSize: 0}, wantErr: true},
		{name: "negative block size", config: Config{Workers: 8, BlockSize: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, errkind.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBlockSizeFromMiB(t *testing.T) {
	tests := []struct {
		mib     int
		want    int64
		wantErr bool
	}{
		{mib: 4, wantErr: true},
		{mib: 5, want: 5 * MiB},
		{mib: 64, want: 64 * MiB},
		{mib: 4095, want: 4095 * MiB},
		{mib: 4096, wantErr: true},
		{mib: -5, wantErr: true},
	}

	for _, tt := range tests {
		got, err := BlockSizeFromMiB(tt.mib)
		if tt.wantErr {
			assert.ErrorIs(t, err, errkind.ErrInvalidArgument, "%d MiB", tt.mib)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
