package hnet

import (
	"fmt"
	"strings"

	"github.com/rotragit/Hi-Therma/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Minimum frame lengths required by each message family.
const (
	minStatusLen     = 48
	minSensorDataLen = 76
	minSystemInfoLen = 30
)

// Device prefixes used in published topic paths.
const (
	DeviceIndoor  = "indoor"
	DeviceOutdoor = "outdoor"
)

// suppression selects the validity rule applied before a byte is emitted as
// a reading.
type suppression int

const (
	suppressNone suppression = iota
	suppressZero
	suppressZeroAndSentinel
)

// operationCommands maps the byte-10 command code of a status message to its
// description. Mode and cycle state are derived from the description text.
var operationCommands = map[byte]string{
	0x04: "AUTO MODE - CYCLE OFF",
	0x05: "AUTO MODE - CYCLE ON",
	0x08: "COOLING MODE - CYCLE OFF",
	0x09: "COOLING MODE - CYCLE ON",
	0x64: "HEATING MODE - CYCLE OFF",
	0x65: "HEATING MODE - CYCLE ON",
}

// operationModes maps the byte-13 mode code of a status message.
var operationModes = map[byte]string{
	0x00: "COOLING",
	0x14: "HEATING",
	0x28: "AUTO",
}

// sensorField describes one zero/sentinel-suppressed byte of a sensor-data
// message.
type sensorField struct {
	index int
	topic string
	unit  string
	rule  suppression
}

var sensorDataFields = []sensorField{
	{11, "sensors/water_inlet_temperature", "°C", suppressZeroAndSentinel},
	{12, "sensors/water_outlet_temperature_1", "°C", suppressZeroAndSentinel},
	{13, "sensors/heat_exchanger_outlet_temperature", "°C", suppressZeroAndSentinel},
	{16, "sensors/water_outlet_temperature_2", "°C", suppressZeroAndSentinel},
	{39, "sensors/gas_ui_temperature", "°C", suppressZeroAndSentinel},
	{40, "sensors/liquid_ui_temperature", "°C", suppressZeroAndSentinel},
	{43, "sensors/ambient_temperature", "°C", suppressZeroAndSentinel},
	{44, "sensors/ambient_temperature_avg", "°C", suppressZeroAndSentinel},
	{65, "sensors/water_flow", "L/min", suppressZero},
	{66, "sensors/water_speed", "", suppressZero},
	{67, "sensors/exhaust_temperature", "°C", suppressZero},
	{68, "sensors/liquid_evaporation_temperature", "°C", suppressZero},
}

// Result is the outcome of dispatching a single frame. A frame can collect
// several archive reasons (an invalid checksum and an unknown opcode are
// independent findings) and each one produces its own diagnostics entry.
type Result struct {
	ChecksumOK     bool
	Ack            bool
	Opcode         byte
	HasOpcode      bool
	Device         string
	Readings       []domain.Reading
	Decoded        bool
	ArchiveReasons []string
}

// Decoder extracts readings from H-NET frames. It is stateless across frames
// and safe to reuse for the process lifetime.
type Decoder struct {
	indoorAddr  byte
	outdoorAddr byte
	sentinel    byte
	logger      zerolog.Logger
}

// NewDecoder creates a decoder for the configured bus addresses and invalid
// sensor sentinel.
func NewDecoder(indoorAddr, outdoorAddr, sentinel byte) *Decoder {
	return &Decoder{
		indoorAddr:  indoorAddr,
		outdoorAddr: outdoorAddr,
		sentinel:    sentinel,
		logger:      log.With().Str("component", "decoder").Logger(),
	}
}

// devicePrefix maps a source address to a topic prefix. Anything that is not
// the indoor controller is attributed to the outdoor unit.
func (d *Decoder) devicePrefix(sourceAddr byte) string {
	if sourceAddr == d.indoorAddr {
		return DeviceIndoor
	}
	return DeviceOutdoor
}

// Dispatch validates a frame and runs the decoder for its message family.
// Validation failures are permissive: a bad checksum is recorded and flagged
// for archiving but decoding still proceeds, matching observed bus behavior.
func (d *Decoder) Dispatch(frame Frame) Result {
	var result Result

	if len(frame) < minChecksumLen {
		d.logger.Warn().Int("length", len(frame)).Msg("Frame too short")
		return result
	}

	result.ChecksumOK = frame.ValidateChecksum()
	result.Device = d.devicePrefix(frame.SourceAddress())

	d.logger.Info().
		Str("source", fmt.Sprintf("0x%02X", frame.SourceAddress())).
		Str("control", fmt.Sprintf("0x%02X", frame.ControlByte())).
		Uint8("length", frame.MessageLength()).
		Msg("H-NET frame")

	if !result.ChecksumOK {
		d.logger.Warn().Msg("Invalid checksum")
		result.ArchiveReasons = append(result.ArchiveReasons, "invalid_checksum")
	}

	if frame.ControlByte() == ControlACK {
		d.logger.Debug().Msg("ACK message")
		result.Ack = true
		return result
	}

	if len(frame) < minPayloadLen {
		d.logger.Warn().Msg("Frame too short for payload")
		return result
	}

	opcode, _ := frame.Opcode()
	result.Opcode = opcode
	result.HasOpcode = true
	d.logger.Info().Str("opcode", fmt.Sprintf("0x%02X", opcode)).Msg("Dispatching")

	switch opcode {
	case OpcodeStatus:
		result.Readings, result.Decoded = d.decodeStatus(frame, result.Device)
	case OpcodeSensorData:
		result.Readings, result.Decoded = d.decodeSensorData(frame)
	case OpcodeSystemInfo:
		result.Readings, result.Decoded = d.decodeSystemInfo(frame)
	default:
		d.logger.Warn().Str("opcode", fmt.Sprintf("0x%02X", opcode)).Msg("Unknown opcode")
		result.ArchiveReasons = append(result.ArchiveReasons, fmt.Sprintf("unknown_opcode_0x%02X", opcode))
	}

	return result
}

// emitByte appends a reading for frame[index] if the byte exists and passes
// the suppression rule.
func (d *Decoder) emitByte(frame Frame, readings *[]domain.Reading, index int, rule suppression, topic, unit string) {
	if index >= len(frame) {
		return
	}
	value := frame[index]

	switch rule {
	case suppressZero:
		if value == 0 {
			return
		}
	case suppressZeroAndSentinel:
		if value == 0 || value == d.sentinel {
			return
		}
	}

	*readings = append(*readings, domain.Reading{Topic: topic, Value: int(value), Unit: unit})
}

// decodeStatus handles opcode 0xB1 status messages.
func (d *Decoder) decodeStatus(frame Frame, device string) ([]domain.Reading, bool) {
	if len(frame) < minStatusLen {
		d.logger.Warn().Int("length", len(frame)).Msg("Status frame too short")
		return nil, false
	}

	d.logger.Info().Str("device", device).Msg("Decoding status message")
	var readings []domain.Reading

	// Operation command (byte 10) and the mode/cycle state derived from it.
	if description, found := operationCommands[frame[10]]; found {
		readings = append(readings, domain.Reading{Topic: device + "/operation_command", Value: description})

		mode := "UNKNOWN"
		switch {
		case strings.Contains(description, "AUTO"):
			mode = "AUTO"
		case strings.Contains(description, "COOLING"):
			mode = "COOLING"
		case strings.Contains(description, "HEATING"):
			mode = "HEATING"
		}

		cycleStatus := "OFF"
		if strings.Contains(description, "ON") {
			cycleStatus = "ON"
		}

		readings = append(readings,
			domain.Reading{Topic: device + "/mode", Value: mode},
			domain.Reading{Topic: device + "/cycle_status", Value: cycleStatus},
		)
	}

	d.emitByte(frame, &readings, 12, suppressZero, device+"/water_setpoint", "°C")

	if mode, found := operationModes[frame[13]]; found {
		readings = append(readings, domain.Reading{Topic: device + "/operation_mode", Value: mode})
	}

	d.emitByte(frame, &readings, 14, suppressZero, device+"/dhw_setpoint", "°C")
	d.emitByte(frame, &readings, 15, suppressZero, device+"/pool_setpoint", "°C")
	d.emitByte(frame, &readings, 18, suppressZero, device+"/indoor_temperature_1", "°C")

	// The second indoor temperature is read from byte 26 but gated on byte 27.
	// Captured bus traffic behaves this way; do not align the offsets.
	if len(frame) > 27 && frame[27] != 0 {
		readings = append(readings, domain.Reading{Topic: device + "/indoor_temperature_2", Value: int(frame[26]), Unit: "°C"})
	}

	d.emitByte(frame, &readings, 19, suppressZero, device+"/ambient_setpoint", "°C")

	// Cycle selection bitmask (byte 16).
	cycleSel := frame[16]
	readings = append(readings,
		domain.Reading{Topic: device + "/cycle_1_active", Value: cycleSel&0x01 != 0},
		domain.Reading{Topic: device + "/cycle_2_active", Value: cycleSel&0x02 != 0},
		domain.Reading{Topic: device + "/cycle_dhw_active", Value: cycleSel&0x04 != 0},
		domain.Reading{Topic: device + "/cycle_pool_active", Value: cycleSel&0x08 != 0},
	)

	if dt, ok := decodeDateTime(frame[34:41]); ok {
		readings = append(readings, domain.Reading{Topic: device + "/system_datetime", Value: dt})
	}

	return readings, true
}

// decodeDateTime reconstructs the controller clock from 7 bytes
// [century, year, month, day+32, hour, minute, second]. A zero in any
// component invalidates the whole timestamp.
func decodeDateTime(dt []byte) (string, bool) {
	if len(dt) < 7 {
		return "", false
	}
	for _, b := range dt[:7] {
		if b == 0 {
			return "", false
		}
	}

	year := int(dt[0])*100 + int(dt[1])
	month := int(dt[2])
	day := int(dt[3]) - 32
	hour := int(dt[4])
	minute := int(dt[5])
	second := int(dt[6])

	return fmt.Sprintf("%02d/%02d/%d %02d:%02d:%02d", day, month, year, hour, minute, second), true
}

// decodeSensorData handles opcode 0xB6 sensor-data messages.
func (d *Decoder) decodeSensorData(frame Frame) ([]domain.Reading, bool) {
	if len(frame) < minSensorDataLen {
		d.logger.Warn().Int("length", len(frame)).Msg("Sensor data frame too short")
		return nil, false
	}

	d.logger.Info().Msg("Decoding sensor data")
	var readings []domain.Reading

	for _, field := range sensorDataFields {
		d.emitByte(frame, &readings, field.index, field.rule, field.topic, field.unit)
	}

	// Byte 11 also feeds the pump status, unconditionally.
	readings = append(readings, domain.Reading{Topic: "outdoor/pump_status", Value: int(frame[11])})

	return readings, true
}

// decodeSystemInfo handles opcode 0xB8 system-info messages.
func (d *Decoder) decodeSystemInfo(frame Frame) ([]domain.Reading, bool) {
	if len(frame) < minSystemInfoLen {
		d.logger.Warn().Int("length", len(frame)).Msg("System info frame too short")
		return nil, false
	}

	d.logger.Info().Msg("Decoding system info")
	var readings []domain.Reading

	d.emitByte(frame, &readings, 21, suppressZero, "outdoor/inverter_frequency", "Hz")
	// The ".." unit tag comes straight from bus captures; its meaning is not
	// established yet.
	d.emitByte(frame, &readings, 23, suppressZero, "outdoor/evo", "..")
	d.emitByte(frame, &readings, 24, suppressZero, "outdoor/current", "A")

	readings = append(readings,
		domain.Reading{Topic: "outdoor/system_param_1", Value: int(frame[10])},
		domain.Reading{Topic: "outdoor/system_param_2", Value: int(frame[11])},
	)

	return readings, true
}
