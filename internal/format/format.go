// Package format renders decoded readings into MQTT payloads.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rotragit/Hi-Therma/internal/domain"
)

// Attributes is the side record published next to every value in Home
// Assistant mode.
type Attributes struct {
	Timestamp         string `json:"timestamp"`
	LastUpdated       string `json:"last_updated"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
}

// legacyPayload is the single JSON document emitted when Home Assistant mode
// is off.
type legacyPayload struct {
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp"`
	Unit      string      `json:"unit,omitempty"`
}

// Formatter converts readings into wire payloads. In Home Assistant mode the
// value is published bare with a JSON attributes side record; in legacy mode
// a single JSON object carries value, timestamp and unit.
type Formatter struct {
	haMode bool
	now    func() time.Time
}

// New creates a formatter. haMode selects the Home Assistant payload shape.
func New(haMode bool) *Formatter {
	return &Formatter{haMode: haMode, now: time.Now}
}

// HAMode reports whether the formatter emits Home Assistant payloads.
func (f *Formatter) HAMode() bool { return f.haMode }

// Format renders a reading. The second return value is the attributes record
// for the "<topic>/attributes" companion topic; it is nil in legacy mode.
func (f *Formatter) Format(reading domain.Reading) ([]byte, []byte, error) {
	now := f.now()

	if !f.haMode {
		payload, err := json.Marshal(legacyPayload{
			Value:     reading.Value,
			Timestamp: now.Format(time.RFC3339),
			Unit:      reading.Unit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal legacy payload: %w", err)
		}
		return payload, nil, nil
	}

	attributes, err := json.Marshal(Attributes{
		Timestamp:         now.Format(time.RFC3339),
		LastUpdated:       now.Format("2006-01-02 15:04:05"),
		UnitOfMeasurement: reading.Unit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	return []byte(renderValue(reading.Value)), attributes, nil
}

// renderValue applies the Home Assistant representation rules.
func renderValue(value interface{}) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "ON"
		}
		return "OFF"
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	case float32:
		return renderValue(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		// "online"/"offline" availability markers pass through, as does any
		// other descriptive string.
		return v
	default:
		return fmt.Sprint(v)
	}
}
