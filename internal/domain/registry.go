// Package domain provides core domain implementations.
package domain

import (
	"sync"
	"time"
)

// DeviceStats holds counters for one bus device (indoor controller or
// outdoor unit).
type DeviceStats struct {
	Name          string    `json:"name"`
	Address       byte      `json:"address"`
	Frames        int64     `json:"frames"`
	LastContact   time.Time `json:"last_contact"`
	LastOpcode    byte      `json:"last_opcode"`
	ChecksumFails int64     `json:"checksum_failures"`
}

// StatsRegistry tracks per-device frame activity and bridge-wide counters.
// The API server reads it; the publication pipeline writes it.
type StatsRegistry struct {
	mutex          sync.RWMutex
	devices        map[string]*DeviceStats
	framesByOpcode map[byte]int64
	malformed      int64
	unknownOpcodes int64
}

// NewStatsRegistry creates an empty stats registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{
		devices:        make(map[string]*DeviceStats),
		framesByOpcode: make(map[byte]int64),
	}
}

// RecordFrame notes a dispatched frame from the named device, whether or not
// a decoder recognized its opcode.
func (r *StatsRegistry) RecordFrame(device string, address, opcode byte, checksumOK bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats, exists := r.devices[device]
	if !exists {
		stats = &DeviceStats{Name: device, Address: address}
		r.devices[device] = stats
	}

	stats.Frames++
	stats.LastContact = time.Now()
	stats.LastOpcode = opcode
	if !checksumOK {
		stats.ChecksumFails++
	}
	r.framesByOpcode[opcode]++
}

// RecordMalformed counts an inbound payload that could not be parsed.
func (r *StatsRegistry) RecordMalformed() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.malformed++
}

// RecordUnknownOpcode counts a frame with an unrecognized opcode.
func (r *StatsRegistry) RecordUnknownOpcode() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.unknownOpcodes++
}

// Devices returns a snapshot of all device stats.
func (r *StatsRegistry) Devices() []DeviceStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	devices := make([]DeviceStats, 0, len(r.devices))
	for _, stats := range r.devices {
		devices = append(devices, *stats)
	}
	return devices
}

// Snapshot returns bridge-wide counters keyed for the status API.
func (r *StatsRegistry) Snapshot() map[string]interface{} {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	byOpcode := make(map[string]int64, len(r.framesByOpcode))
	var total int64
	for opcode, count := range r.framesByOpcode {
		byOpcode[opcodeKey(opcode)] = count
		total += count
	}

	return map[string]interface{}{
		"frames_total":     total,
		"frames_by_opcode": byOpcode,
		"malformed":        r.malformed,
		"unknown_opcodes":  r.unknownOpcodes,
	}
}

func opcodeKey(opcode byte) string {
	const hexDigits = "0123456789ABCDEF"
	return "0x" + string([]byte{hexDigits[opcode>>4], hexDigits[opcode&0x0F]})
}
