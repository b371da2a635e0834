package noisegate

import (
	"math"

	"github.com/sirupsen/logrus"
)

const (
	spectralFFTSize       = 512
	spectralLearnFrames   = 10
	spectralSuppression   = 0.5
	spectralOverSubtract  = 2.0
	spectralFloorFraction = 0.1

	// The voice probability rises through 0.5 at this a-posteriori SNR.
	spectralSNRMidpointDB = 6.0
	spectralSNRSlopeDB    = 2.0

	// Frames quieter than this level never count as voice.
	spectralLevelMidpointDB = -50.0
	spectralLevelSlopeDB    = 3.0
)

// SpectralModel is the built-in pure Go denoiser. It estimates a noise
// floor spectrum, removes it by spectral subtraction and derives the voice
// probability from the frame's signal-to-noise ratio and level.
//
// Design decisions:
// - Frames are zero-padded to a 512-point FFT; the frame is not windowed
//   because frames do not overlap
// - The noise floor is learned over the first frames, then tracks the
//   minimum with a slow release
// - All buffers and twiddle factors are allocated once
type SpectralModel struct {
	spectrum []complex128
	cosTable []float64
	sinTable []float64
	mag      []float64
	noise    []float64

	learned int
}

// NewSpectralModel creates the built-in spectral subtraction model.
func NewSpectralModel() (*SpectralModel, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewSpectralModel",
		"fft_size": spectralFFTSize,
	}).Debug("Creating spectral denoise model")

	m := &SpectralModel{
		spectrum: make([]complex128, spectralFFTSize),
		cosTable: make([]float64, spectralFFTSize/2),
		sinTable: make([]float64, spectralFFTSize/2),
		mag:      make([]float64, spectralFFTSize/2+1),
		noise:    make([]float64, spectralFFTSize/2+1),
	}
	for k := range m.cosTable {
		angle := 2 * math.Pi * float64(k) / spectralFFTSize
		m.cosTable[k] = math.Cos(angle)
		m.sinTable[k] = math.Sin(angle)
	}
	return m, nil
}

// Name returns "spectral".
func (m *SpectralModel) Name() string { return ModelSpectral }

// FrameSize returns FrameSize.
func (m *SpectralModel) FrameSize() int { return FrameSize }

// InputScale returns 1: the model works on host range samples.
func (m *SpectralModel) InputScale() float32 { return 1 }

// ProcessFrame denoises one frame and returns its voice probability.
// A frame of digital silence returns silence with probability 0.
func (m *SpectralModel) ProcessFrame(out, in []float32) float32 {
	var energy float64
	for _, s := range in[:FrameSize] {
		energy += float64(s) * float64(s)
	}
	if energy == 0 {
		clear(out[:FrameSize])
		return 0
	}

	for i := range m.spectrum {
		if i < FrameSize {
			m.spectrum[i] = complex(float64(in[i]), 0)
		} else {
			m.spectrum[i] = 0
		}
	}
	m.fft(m.spectrum)

	var sigPower, noisePower float64
	for i := range m.mag {
		re, im := real(m.spectrum[i]), imag(m.spectrum[i])
		m.mag[i] = math.Sqrt(re*re + im*im)
		sigPower += m.mag[i] * m.mag[i]
	}
	m.updateNoiseFloor()
	for _, n := range m.noise {
		noisePower += n * n
	}

	if m.learned >= spectralLearnFrames {
		m.subtract()
	}

	m.ifft(m.spectrum)
	for i := 0; i < FrameSize; i++ {
		out[i] = float32(real(m.spectrum[i]))
	}

	levelDB := 10 * math.Log10(energy/FrameSize)
	snrDB := 60.0
	if noisePower > 0 {
		snrDB = 10 * math.Log10(sigPower/noisePower)
	}
	if m.learned < spectralLearnFrames {
		snrDB = 60
	}
	p := logistic((snrDB-spectralSNRMidpointDB)/spectralSNRSlopeDB) *
		logistic((levelDB-spectralLevelMidpointDB)/spectralLevelSlopeDB)
	return float32(p)
}

// updateNoiseFloor learns the floor over the first frames and afterwards
// follows drops immediately and rises slowly.
func (m *SpectralModel) updateNoiseFloor() {
	if m.learned < spectralLearnFrames {
		alpha := 0.8
		for i := range m.noise {
			if m.learned == 0 {
				m.noise[i] = m.mag[i]
			} else {
				m.noise[i] = alpha*m.noise[i] + (1-alpha)*m.mag[i]
			}
		}
		m.learned++
		return
	}
	for i := range m.noise {
		if m.mag[i] < m.noise[i] {
			m.noise[i] = 0.9*m.noise[i] + 0.1*m.mag[i]
		} else {
			m.noise[i] = 0.999*m.noise[i] + 0.001*m.mag[i]
		}
	}
}

func (m *SpectralModel) subtract() {
	for i := range m.mag {
		if m.mag[i] <= 0 {
			continue
		}
		subtracted := m.mag[i] - spectralOverSubtract*spectralSuppression*m.noise[i]
		if floor := spectralFloorFraction * m.mag[i]; subtracted < floor {
			subtracted = floor
		}
		ratio := subtracted / m.mag[i]
		m.spectrum[i] *= complex(ratio, 0)
		if i > 0 && i < spectralFFTSize/2 {
			m.spectrum[spectralFFTSize-i] *= complex(ratio, 0)
		}
	}
}

// fft is an in-place radix-2 Cooley-Tukey transform using the
// precomputed twiddle tables.
func (m *SpectralModel) fft(data []complex128) {
	n := len(data)

	for i, j := 0, 0; i < n; i++ {
		if j > i {
			data[i], data[j] = data[j], data[i]
		}
		bit := n >> 1
		for j&bit != 0 {
			j ^= bit
			bit >>= 1
		}
		j ^= bit
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for i := 0; i < n; i += size {
			for j := 0; j < half; j++ {
				k := j * stride
				w := complex(m.cosTable[k], -m.sinTable[k])
				u := data[i+j]
				v := data[i+j+half] * w
				data[i+j] = u + v
				data[i+j+half] = u - v
			}
		}
	}
}

// ifft uses the conjugate trick around fft.
func (m *SpectralModel) ifft(data []complex128) {
	for i := range data {
		data[i] = complex(real(data[i]), -imag(data[i]))
	}
	m.fft(data)
	scale := 1.0 / float64(len(data))
	for i := range data {
		data[i] = complex(real(data[i])*scale, -imag(data[i])*scale)
	}
}

// Reset forgets the learned noise floor.
func (m *SpectralModel) Reset() {
	clear(m.noise)
	m.learned = 0
}

// Close is a no-op; the model holds no external resources.
func (m *SpectralModel) Close() error { return nil }

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
