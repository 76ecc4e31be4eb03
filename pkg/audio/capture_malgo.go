package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// capturePeriodMS controls how often the device delivers data. 20 ms keeps
// outbound chunks small enough for low-latency streaming.
const capturePeriodMS = 20

// malgoSource drives a miniaudio capture device: mono, 16 kHz, signed 16-bit,
// on a realtime-priority audio thread.
type malgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func newMalgoSource() (captureSource, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &malgoSource{ctx: ctx}, nil
}

func (s *malgoSource) Start(onData func(pcm []byte)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = CaptureSampleRateHz
	deviceConfig.PeriodSizeInMilliseconds = capturePeriodMS

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	s.device = device
	return nil
}

// Stop blocks until the device thread has stopped delivering data.
func (s *malgoSource) Stop() {
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
