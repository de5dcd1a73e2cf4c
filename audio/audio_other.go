//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classify("malgo init", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	c := &malgoCapture{ctx: m.ctx, info: device, config: config}
	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		copy(c.devID[:], idBytes)
		c.hasID = true
	}
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

// malgoCapture initialises the miniaudio device lazily on Start so that an
// idle capture holds no OS microphone handle.
type malgoCapture struct {
	ctx      *malgo.AllocatedContext
	info     *DeviceInfo
	config   CaptureConfig
	devID    malgo.DeviceID
	hasID    bool
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	device *malgo.Device
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return nil
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = c.config.Channels
	deviceConfig.SampleRate = c.config.SampleRate
	if c.hasID {
		deviceConfig.Capture.DeviceID = c.devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				pcm := make([]byte, len(data))
				copy(pcm, data)
				(*cb)(pcm, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return classify("malgo device", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return classify("malgo start", err)
	}
	c.device = dev
	return nil
}

func (c *malgoCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return
	}
	c.device.Stop()
	c.device.Uninit()
	c.device = nil
}

func (c *malgoCapture) Close() {
	c.Stop()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name
	}
	return "system default"
}
