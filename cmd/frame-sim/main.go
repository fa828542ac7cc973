// Package main provides a bus-traffic simulator for the Hi-Therma bridge.
// It publishes synthetic H-NET frames to the raw-frame input topic so the
// full decode and discovery pipeline can be exercised without hardware.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// frameSpec describes one synthetic frame before checksum sealing.
type frameSpec struct {
	name   string
	asJSON bool // publish as a JSON byte array instead of hex pairs
	build  func() []byte
}

// seal appends the bus checksum: XOR of all bytes except the source address.
func seal(frame []byte) []byte {
	var checksum byte
	for _, b := range frame[1:] {
		checksum ^= b
	}
	return append(frame, checksum)
}

// statusFrame builds an indoor-controller status message (opcode 0xB1).
func statusFrame() []byte {
	frame := make([]byte, 47)
	frame[0] = 0x21 // indoor controller
	frame[1] = 0x00
	frame[2] = byte(len(frame) + 1)
	frame[9] = 0xB1
	frame[10] = 0x65 // HEATING MODE - CYCLE ON
	frame[12] = 45   // water setpoint
	frame[13] = 0x14 // HEATING
	frame[14] = 48   // dhw setpoint
	frame[16] = 0x05 // cycle 1 + dhw active
	frame[18] = 21   // indoor temperature
	frame[19] = 22   // ambient setpoint
	frame[26] = 20   // second indoor temperature
	frame[27] = 1    // validity gate for byte 26
	now := time.Now()
	frame[34] = byte(now.Year() / 100)
	frame[35] = byte(now.Year() % 100)
	frame[36] = byte(now.Month())
	frame[37] = byte(now.Day() + 32)
	frame[38] = byte(now.Hour())
	frame[39] = byte(now.Minute())
	frame[40] = byte(now.Second())
	return seal(frame)
}

// sensorDataFrame builds an outdoor-unit sensor-data message (opcode 0xB6).
func sensorDataFrame() []byte {
	frame := make([]byte, 75)
	frame[0] = 0x12 // outdoor unit
	frame[1] = 0x00
	frame[2] = byte(len(frame) + 1)
	frame[9] = 0xB6
	frame[11] = 38  // water inlet / pump status
	frame[12] = 42  // water outlet 1
	frame[13] = 40  // heat exchanger outlet
	frame[16] = 41  // water outlet 2
	frame[39] = 35  // gas UI
	frame[40] = 30  // liquid UI
	frame[43] = 129 // ambient, sentinel: suppressed on decode
	frame[44] = 14  // ambient average
	frame[65] = 22  // water flow
	frame[66] = 3   // water speed
	frame[67] = 55  // exhaust
	frame[68] = 12  // liquid evaporation
	return seal(frame)
}

// systemInfoFrame builds an outdoor-unit system-info message (opcode 0xB8).
func systemInfoFrame() []byte {
	frame := make([]byte, 29)
	frame[0] = 0x12
	frame[1] = 0x00
	frame[2] = byte(len(frame) + 1)
	frame[9] = 0xB8
	frame[10] = 7  // system param 1
	frame[11] = 2  // system param 2
	frame[21] = 62 // inverter frequency
	frame[23] = 18 // evo
	frame[24] = 9  // compressor current
	return seal(frame)
}

// ackFrame builds a bus acknowledgment, which carries no payload.
func ackFrame() []byte {
	return seal([]byte{0x12, 0x06, 0x04})
}

func frames() []frameSpec {
	return []frameSpec{
		{name: "status", build: statusFrame},
		{name: "sensor_data", asJSON: true, build: sensorDataFrame},
		{name: "system_info", build: systemInfoFrame},
		{name: "ack", build: ackFrame},
	}
}

// encode renders a frame the way the bus tap publishes it: either a JSON
// byte array or a string of hex pairs.
func encode(frame []byte, asJSON bool) ([]byte, error) {
	if asJSON {
		values := make([]int, len(frame))
		for i, b := range frame {
			values[i] = int(b)
		}
		return json.Marshal(values)
	}

	var sb strings.Builder
	for _, b := range frame {
		fmt.Fprintf(&sb, "%02x", b)
	}
	return []byte(sb.String()), nil
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	topic := flag.String("topic", "hisense/hnet/raw", "Raw-frame input topic")
	interval := flag.Duration("interval", 5*time.Second, "Delay between frames")
	count := flag.Int("count", 0, "Number of frames to send (0 = until interrupted)")
	flag.Parse()

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("hnet-frame-sim-%d", time.Now().Unix()))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to %s: %v", *broker, token.Error())
	}
	defer client.Disconnect(250)

	log.Printf("connected to %s, publishing to %s every %s", *broker, *topic, *interval)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	specs := frames()
	for {
		spec := specs[sent%len(specs)]
		payload, err := encode(spec.build(), spec.asJSON)
		if err != nil {
			log.Fatalf("failed to encode %s frame: %v", spec.name, err)
		}

		if token := client.Publish(*topic, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("publish failed: %v", token.Error())
		} else {
			log.Printf("sent %s frame (%d bytes)", spec.name, len(payload))
		}

		sent++
		if *count > 0 && sent >= *count {
			return
		}

		select {
		case <-ticker.C:
		case sig := <-signalChan:
			log.Printf("received %s, stopping", sig)
			return
		}
	}
}
