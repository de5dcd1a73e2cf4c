//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	initOnce sync.Once
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	playMu   sync.Mutex

	// read from the device callback
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
)

func initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate
	var err error
	device, err = malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	return err
}

func setup() {
	var err error
	mctx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		mctx = nil
		return
	}
	if err := initDevice(); err != nil {
		mctx.Uninit()
		mctx = nil
	}
}

func onData(out, _ []byte, frames uint32) {
	clear(out)
	buf := current.Load()
	if buf == nil {
		return
	}
	p := pos.Load()
	n := uint32(copy(out[:frames*2], (*buf)[p:]))
	pos.Store(p + n)
	if p+n >= uint32(len(*buf)) {
		current.Store(nil)
	}
}

func play(c Cue) {
	initOnce.Do(setup)
	if mctx == nil {
		return
	}
	pcm := Samples(c, 1)
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	playMu.Lock()
	defer playMu.Unlock()
	device.Stop()
	pos.Store(0)
	current.Store(&buf)
	if err := device.Start(); err != nil {
		// Recreate after sleep/wake invalidated the device.
		device.Uninit()
		if initDevice() != nil || device.Start() != nil {
			current.Store(nil)
		}
	}
}
