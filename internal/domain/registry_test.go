package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFrame(t *testing.T) {
	registry := NewStatsRegistry()

	registry.RecordFrame("indoor", 0x21, 0xB1, true)
	registry.RecordFrame("indoor", 0x21, 0xB6, false)
	registry.RecordFrame("outdoor", 0x12, 0xB8, true)

	devices := registry.Devices()
	require.Len(t, devices, 2)

	var indoor DeviceStats
	for _, d := range devices {
		if d.Name == "indoor" {
			indoor = d
		}
	}
	assert.Equal(t, byte(0x21), indoor.Address)
	assert.Equal(t, int64(2), indoor.Frames)
	assert.Equal(t, byte(0xB6), indoor.LastOpcode)
	assert.Equal(t, int64(1), indoor.ChecksumFails)
	assert.False(t, indoor.LastContact.IsZero())
}

func TestSnapshot(t *testing.T) {
	registry := NewStatsRegistry()

	registry.RecordFrame("indoor", 0x21, 0xB1, true)
	registry.RecordFrame("indoor", 0x21, 0xB1, true)
	registry.RecordFrame("outdoor", 0x12, 0xB6, true)
	registry.RecordMalformed()
	registry.RecordUnknownOpcode()

	snapshot := registry.Snapshot()
	assert.Equal(t, int64(3), snapshot["frames_total"])
	assert.Equal(t, int64(1), snapshot["malformed"])
	assert.Equal(t, int64(1), snapshot["unknown_opcodes"])

	byOpcode, ok := snapshot["frames_by_opcode"].(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(2), byOpcode["0xB1"])
	assert.Equal(t, int64(1), byOpcode["0xB6"])
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewStatsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.RecordFrame("indoor", 0x21, 0xB1, j%2 == 0)
				registry.Snapshot()
				registry.Devices()
			}
		}()
	}
	wg.Wait()

	snapshot := registry.Snapshot()
	assert.Equal(t, int64(800), snapshot["frames_total"])
}
