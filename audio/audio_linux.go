//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("echosketch"))
	if err != nil {
		return nil, classify("pulse connect", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// echoCancelSource finds the source published by module-echo-cancel, if loaded.
func (c *pulseCapture) echoCancelSource() *pulse.Source {
	sources, err := c.client.ListSources()
	if err != nil {
		return nil
	}
	for _, s := range sources {
		if strings.Contains(s.ID(), "echo-cancel") || strings.Contains(s.ID(), "echo_cancel") {
			return s
		}
	}
	return nil
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	// Pulse sources deliver low levels without AGC; without noise suppression
	// a smaller gain keeps hiss out of the level meter.
	gain := int32(8)
	if !c.config.NoiseSuppression {
		gain = 4
	}

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			amplified := int32(s) * gain
			if amplified > 32767 {
				amplified = 32767
			} else if amplified < -32768 {
				amplified = -32768
			}
			binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(amplified)))
		}
		(*cb)(data, uint32(len(buf))/c.channels())
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordMediaName("echosketch voice capture"),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			vol := uint32(proto.VolumeNorm) * 3
			r.ChannelVolumes = proto.ChannelVolumes{vol}
		}),
	}
	if c.channels() == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}
	switch {
	case c.device != nil:
		source, err := c.client.SourceByID(c.device.ID)
		if err != nil || source == nil {
			return classify("pulse source "+c.device.Name, fmt.Errorf("source not found: %v", err))
		}
		opts = append(opts, pulse.RecordSource(source))
	case c.config.EchoCancellation:
		if source := c.echoCancelSource(); source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return classify("pulse record", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) channels() uint32 {
	if c.config.Channels == 0 {
		return 1
	}
	return c.config.Channels
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
		c.stream = nil
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}
