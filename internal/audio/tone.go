package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/kapitanov/chip8/internal/vm"
)

const (
	DefaultSampleRate = 44100
	DefaultFrequency  = 440

	amplitude      = 0.2
	bytesPerSample = 4 // mono float32
)

type Options struct {
	SampleRate int
	Frequency  int
}

// squareWave produces mono float32LE samples, silent while gate is off.
type squareWave struct {
	gate       atomic.Bool
	sampleRate int
	frequency  int
	phase      int
}

func (w *squareWave) Read(p []byte) (int, error) {
	n := len(p) / bytesPerSample
	on := w.gate.Load()
	period := w.sampleRate / w.frequency

	for i := 0; i < n; i++ {
		sample := float32(0)
		if on {
			sample = amplitude
			if w.phase >= period/2 {
				sample = -amplitude
			}
		}
		w.phase = (w.phase + 1) % period

		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(sample))
	}

	return n * bytesPerSample, nil
}

// Tone plays the CHIP-8 beep through oto. Its methods are called from the
// machine's goroutine only.
type Tone struct {
	ctx    *oto.Context
	player *oto.Player
	wave   *squareWave
}

var _ vm.Tone = (*Tone)(nil)

func New(opts Options) (*Tone, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Frequency <= 0 || opts.Frequency*2 > opts.SampleRate {
		return nil, fmt.Errorf("invalid tone frequency %d Hz", opts.Frequency)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	<-ready
	slog.Debug("audio: create context", "rate", opts.SampleRate)

	wave := &squareWave{sampleRate: opts.SampleRate, frequency: opts.Frequency}
	player := ctx.NewPlayer(wave)
	player.Play()

	return &Tone{
		ctx:    ctx,
		player: player,
		wave:   wave,
	}, nil
}

func (t *Tone) StartTone() {
	t.wave.gate.Store(true)
}

func (t *Tone) StopTone() {
	t.wave.gate.Store(false)
}

func (t *Tone) Close() {
	t.StopTone()

	if t.player == nil {
		return
	}
	if err := t.player.Close(); err != nil {
		slog.Error("failed to close audio player", "err", err)
	}
	t.player = nil
}
