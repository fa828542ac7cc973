package service

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/rotragit/Hi-Therma/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublish struct {
	topic    string
	payload  string
	retained bool
}

// fakePublisher is an in-memory domain.MessagePublisher.
type fakePublisher struct {
	mu        sync.Mutex
	publishes []fakePublish
	handlers  map[string]func(string, []byte)
	closed    bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]func(string, []byte))}
}

func (p *fakePublisher) Connect(context.Context) error { return nil }

func (p *fakePublisher) Subscribe(topic string, handler func(string, []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = handler
	return nil
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishes = append(p.publishes, fakePublish{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) find(topic string) (fakePublish, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pub := range p.publishes {
		if pub.topic == topic {
			return pub, true
		}
	}
	return fakePublish{}, false
}

func (p *fakePublisher) deliver(topic string, payload []byte) {
	p.mu.Lock()
	handler := p.handlers[topic]
	p.mu.Unlock()
	handler(topic, payload)
}

// notifyingPublisher also reports (re)connections, like the real transport.
type notifyingPublisher struct {
	fakePublisher
	onConnect func()
}

func (p *notifyingPublisher) SetOnConnect(fn func()) { p.onConnect = fn }

func (p *notifyingPublisher) Connect(context.Context) error {
	if p.onConnect != nil {
		p.onConnect()
	}
	return nil
}

type archiveCall struct {
	frame  []byte
	reason string
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []archiveCall
}

func (a *fakeArchiver) Archive(frame []byte, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, archiveCall{frame: frame, reason: reason})
	return nil
}

func testBridgeConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.Enabled = false
	cfg.Debug.SaveUnknownFrames = false
	return cfg
}

// seal appends the bus checksum to a frame under construction.
func seal(frame []byte) []byte {
	var checksum byte
	for _, b := range frame[1:] {
		checksum ^= b
	}
	return append(frame, checksum)
}

// statusFrameHex builds a sealed indoor status frame and renders it as the
// hex payload the bus tap publishes.
func statusFrameHex(set map[int]byte) []byte {
	frame := make([]byte, 47)
	frame[0] = 0x21
	frame[9] = 0xB1
	for index, value := range set {
		frame[index] = value
	}
	return []byte(hex.EncodeToString(seal(frame)))
}

func TestStartAnnouncesDiscoveryAndAvailability(t *testing.T) {
	publisher := newFakePublisher()
	bridge, err := NewBridge(testBridgeConfig(), publisher, nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Start(context.Background()))

	availability, found := publisher.find("PDC/availability")
	require.True(t, found)
	assert.Equal(t, "online", availability.payload)
	assert.True(t, availability.retained)

	configCount := 0
	for _, pub := range publisher.publishes {
		if len(pub.topic) > len("homeassistant/") && pub.topic[:len("homeassistant/")] == "homeassistant/" {
			assert.True(t, pub.retained, pub.topic)
			configCount++
		}
	}
	assert.Greater(t, configCount, 0, "discovery registrations published")

	status := bridge.Status()
	assert.Equal(t, configCount, status["announced_entities"])
}

func TestStartAnnouncesOnEveryReconnect(t *testing.T) {
	publisher := &notifyingPublisher{}
	publisher.handlers = make(map[string]func(string, []byte))
	bridge, err := NewBridge(testBridgeConfig(), publisher, nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Start(context.Background()))
	first := len(publisher.publishes)
	assert.Greater(t, first, 0)

	// A reconnect repeats the full announcement.
	publisher.onConnect()
	assert.Equal(t, first*2, len(publisher.publishes))
}

func TestStartWithDiscoveryDisabled(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.HomeAssistant.DiscoveryEnabled = false

	publisher := newFakePublisher()
	bridge, err := NewBridge(cfg, publisher, nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Start(context.Background()))

	// Availability is still published, discovery configs are not.
	_, found := publisher.find("PDC/availability")
	assert.True(t, found)
	for _, pub := range publisher.publishes {
		assert.NotContains(t, pub.topic, "homeassistant/")
	}
}

func TestHandleMessagePublishesDecodedReadings(t *testing.T) {
	publisher := newFakePublisher()
	bridge, err := NewBridge(testBridgeConfig(), publisher, nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	publisher.deliver("hisense/hnet/raw", statusFrameHex(map[int]byte{10: 0x65, 12: 45}))

	command, found := publisher.find("PDC/indoor/operation_command")
	require.True(t, found)
	assert.Equal(t, "HEATING MODE - CYCLE ON", command.payload)
	assert.True(t, command.retained)

	setpoint, found := publisher.find("PDC/indoor/water_setpoint")
	require.True(t, found)
	assert.Equal(t, "45", setpoint.payload)

	// Attributes ride along, never retained.
	attributes, found := publisher.find("PDC/indoor/water_setpoint/attributes")
	require.True(t, found)
	assert.False(t, attributes.retained)
	assert.Contains(t, attributes.payload, "unit_of_measurement")

	// A successful decode marks the source device online.
	status, found := publisher.find("PDC/indoor/status")
	require.True(t, found)
	assert.Equal(t, "online", status.payload)

	snapshot := bridge.Registry().Snapshot()
	assert.Equal(t, int64(1), snapshot["frames_total"])
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	publisher := newFakePublisher()
	bridge, err := NewBridge(testBridgeConfig(), publisher, nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	before := len(publisher.publishes)
	publisher.deliver("hisense/hnet/raw", []byte("zz not a frame zz"))

	assert.Equal(t, before, len(publisher.publishes), "nothing published for garbage input")
	assert.Equal(t, int64(1), bridge.Registry().Snapshot()["malformed"])
}

func TestHandleMessageArchivesFlaggedFrames(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Debug.SaveUnknownFrames = true

	publisher := newFakePublisher()
	archiver := &fakeArchiver{}
	bridge, err := NewBridge(cfg, publisher, archiver)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	// Corrupt the checksum of an otherwise valid status frame.
	payload := statusFrameHex(map[int]byte{10: 0x65})
	frame, _ := hex.DecodeString(string(payload))
	frame[len(frame)-1] ^= 0xFF
	publisher.deliver("hisense/hnet/raw", []byte(hex.EncodeToString(frame)))

	require.Len(t, archiver.calls, 1)
	assert.Equal(t, "invalid_checksum", archiver.calls[0].reason)

	// The frame is still decoded and published.
	_, found := publisher.find("PDC/indoor/operation_command")
	assert.True(t, found)
}

func TestHandleMessageUnknownOpcode(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Debug.SaveUnknownFrames = true

	publisher := newFakePublisher()
	archiver := &fakeArchiver{}
	bridge, err := NewBridge(cfg, publisher, archiver)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	frame := make([]byte, 19)
	frame[0] = 0x21
	frame[9] = 0xC4
	publisher.deliver("hisense/hnet/raw", []byte(hex.EncodeToString(seal(frame))))

	require.Len(t, archiver.calls, 1)
	assert.Equal(t, "unknown_opcode_0xC4", archiver.calls[0].reason)

	snapshot := bridge.Registry().Snapshot()
	assert.Equal(t, int64(1), snapshot["unknown_opcodes"])

	// No device status is published without a successful decode.
	_, found := publisher.find("PDC/indoor/status")
	assert.False(t, found)
}

func TestHandleMessageArchivesBothReasons(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Debug.SaveUnknownFrames = true

	publisher := newFakePublisher()
	archiver := &fakeArchiver{}
	bridge, err := NewBridge(cfg, publisher, archiver)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	// A frame with both a corrupted checksum and an unrecognized opcode
	// yields one archive entry per finding.
	frame := make([]byte, 19)
	frame[0] = 0x21
	frame[9] = 0xC4
	frame = seal(frame)
	frame[len(frame)-1] ^= 0xFF
	publisher.deliver("hisense/hnet/raw", []byte(hex.EncodeToString(frame)))

	require.Len(t, archiver.calls, 2)
	assert.Equal(t, "invalid_checksum", archiver.calls[0].reason)
	assert.Equal(t, "unknown_opcode_0xC4", archiver.calls[1].reason)
}

func TestStopPublishesOfflineAndCloses(t *testing.T) {
	publisher := newFakePublisher()
	bridge, err := NewBridge(testBridgeConfig(), publisher, nil)
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	require.NoError(t, bridge.Stop(context.Background()))

	last := publisher.publishes[len(publisher.publishes)-1]
	assert.Equal(t, "PDC/availability", last.topic)
	assert.Equal(t, "offline", last.payload)
	assert.True(t, last.retained)
	assert.True(t, publisher.closed)
}
