package sysmem_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/memtrace/internal/sysmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const freeOutput = `               total        used        free      shared  buff/cache   available
Mem:     16000000000  13600000000   1200000000    10000000   1200000000  2400000000
Swap:     2000000000            0   2000000000
`

func TestParseFree(t *testing.T) {
	s, err := sysmem.ParseFree([]byte(freeOutput))
	require.NoError(t, err)
	assert.EqualValues(t, 16000000000, s.Total)
	assert.EqualValues(t, 13600000000, s.Used)
	assert.InDelta(t, 0.85, s.Ratio(), 1e-9)
}

func TestParseFreeErrors(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"no mem row", "Swap: 1 2 3\n"},
		{"bad total", "Mem: lots 2 3\n"},
		{"zero total", "Mem: 0 0 0\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sysmem.ParseFree([]byte(tt.out))
			assert.Error(t, err)
		})
	}
}

func TestFreeRunError(t *testing.T) {
	f := &sysmem.Free{Run: func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("exec: \"free\": executable file not found")
	}}
	_, err := f.Sample(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running free")
}

func TestMeminfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	content := "MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := (&sysmem.Meminfo{Path: path}).Sample(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1000*1024, s.Total)
	assert.EqualValues(t, 750*1024, s.Used)
	assert.InDelta(t, 0.75, s.Ratio(), 1e-9)
}

func TestMeminfoMissingFields(t *testing.T) {
	_, err := sysmem.ParseMeminfo([]byte("MemTotal: 1000 kB\n"))
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	for _, name := range []string{"", "free", "meminfo"} {
		_, err := sysmem.NewSource(name)
		assert.NoError(t, err, name)
	}
	_, err := sysmem.NewSource("vmstat")
	assert.Error(t, err)
}

func TestRatioZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, sysmem.Sample{}.Ratio())
}
