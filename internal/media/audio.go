package media

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// ErrUnsupportedFormat is returned for audio that is neither WAV nor FLAC.
var ErrUnsupportedFormat = errors.NewStd("unsupported audio format")

// blockFrames is the resolution of the intermediate peak envelope.
const blockFrames = 256

// AudioInfo describes a decoded audio stream.
type AudioInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
	Duration   time.Duration
}

type audioFormat int

const (
	formatUnknown audioFormat = iota
	formatWAV
	formatFLAC
)

func detectFormat(f *os.File) (audioFormat, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return formatUnknown, errors.New(ErrUnsupportedFormat).
			Component("media").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return formatUnknown, err
	}
	switch string(magic) {
	case "RIFF":
		return formatWAV, nil
	case "fLaC":
		return formatFLAC, nil
	}
	return formatUnknown, errors.New(ErrUnsupportedFormat).
		Component("media").
		Category(errors.CategoryFileParsing).
		Context("magic", string(magic)).
		Build()
}

// getAudioDivisor returns the divisor that maps integer samples to [-1, 1].
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component("media").
			Category(errors.CategoryFileParsing).
			Build()
	}
}

func durationOf(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// peakBlocks collects the peak amplitude of every blockFrames frames.
type peakBlocks struct {
	peaks   []float32
	current float32
	inBlock int
	frames  int64
}

func (p *peakBlocks) addFrame(peak float32) {
	p.current = max(p.current, peak)
	p.inBlock++
	p.frames++
	if p.inBlock == blockFrames {
		p.peaks = append(p.peaks, p.current)
		p.current, p.inBlock = 0, 0
	}
}

func (p *peakBlocks) finish() []float32 {
	if p.inBlock > 0 {
		p.peaks = append(p.peaks, p.current)
		p.current, p.inBlock = 0, 0
	}
	return p.peaks
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func readWAVInfo(f *os.File) (*wav.Decoder, AudioInfo, error) {
	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, AudioInfo{}, errors.Newf("invalid WAV file format").
			Component("media").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if decoder.NumChans == 0 {
		return nil, AudioInfo{}, errors.Newf("WAV file declares no channels").
			Component("media").
			Category(errors.CategoryFileParsing).
			Build()
	}
	info := AudioInfo{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if d, err := decoder.Duration(); err == nil {
		info.Duration = d
		info.Frames = int64(d.Seconds() * float64(info.SampleRate))
	}
	return decoder, info, nil
}

func wavPeaks(f *os.File) ([]float32, AudioInfo, error) {
	decoder, info, err := readWAVInfo(f)
	if err != nil {
		return nil, AudioInfo{}, err
	}
	divisor, err := getAudioDivisor(info.BitDepth)
	if err != nil {
		return nil, AudioInfo{}, err
	}

	var blocks peakBlocks
	buf := &audio.IntBuffer{
		Data:   make([]int, 4096*info.Channels),
		Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
	}
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, AudioInfo{}, errors.New(err).
				Component("media").
				Category(errors.CategoryFileParsing).
				Context("format", "wav").
				Build()
		}
		if n == 0 {
			break
		}
		for i := 0; i+info.Channels <= n; i += info.Channels {
			var peak float32
			for c := range info.Channels {
				peak = max(peak, abs32(float32(buf.Data[i+c])/divisor))
			}
			blocks.addFrame(peak)
		}
	}

	info.Frames = blocks.frames
	info.Duration = durationOf(blocks.frames, info.SampleRate)
	return blocks.finish(), info, nil
}

func flacError(err error) error {
	return errors.New(err).
		Component("media").
		Category(errors.CategoryFileParsing).
		Context("format", "flac").
		Build()
}

func readFLACInfo(f *os.File) (AudioInfo, error) {
	decoder, err := flac.NewDecoder(f)
	if err != nil {
		return AudioInfo{}, flacError(err)
	}
	frames := int64(decoder.TotalSamples)
	return AudioInfo{
		SampleRate: decoder.SampleRate,
		Channels:   decoder.NChannels,
		BitDepth:   decoder.BitsPerSample,
		Frames:     frames,
		Duration:   durationOf(frames, decoder.SampleRate),
	}, nil
}

// flacSample reads one little-endian sample of the given byte width.
func flacSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// sign-extend 24-bit
		return v << 8 >> 8
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

func flacPeaks(f *os.File) ([]float32, AudioInfo, error) {
	decoder, err := flac.NewDecoder(f)
	if err != nil {
		return nil, AudioInfo{}, flacError(err)
	}
	info := AudioInfo{
		SampleRate: decoder.SampleRate,
		Channels:   decoder.NChannels,
		BitDepth:   decoder.BitsPerSample,
	}
	divisor, err := getAudioDivisor(info.BitDepth)
	if err != nil {
		return nil, AudioInfo{}, err
	}
	if info.Channels <= 0 {
		return nil, AudioInfo{}, errors.Newf("FLAC stream declares no channels").
			Component("media").
			Category(errors.CategoryFileParsing).
			Build()
	}

	width := info.BitDepth / 8
	frameBytes := width * info.Channels
	var blocks peakBlocks
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, AudioInfo{}, flacError(err)
		}
		for i := 0; i+frameBytes <= len(frame); i += frameBytes {
			var peak float32
			for c := range info.Channels {
				peak = max(peak, abs32(float32(flacSample(frame[i+c*width:], width))/divisor))
			}
			blocks.addFrame(peak)
		}
	}

	info.Frames = blocks.frames
	info.Duration = durationOf(blocks.frames, info.SampleRate)
	return blocks.finish(), info, nil
}

// Probe reads the stream header of a WAV or FLAC blob.
func Probe(b *Blob) (AudioInfo, error) {
	f, err := b.Open()
	if err != nil {
		return AudioInfo{}, err
	}
	defer f.Close()

	format, err := detectFormat(f)
	if err != nil {
		return AudioInfo{}, err
	}
	if format == formatFLAC {
		return readFLACInfo(f)
	}
	_, info, err := readWAVInfo(f)
	return info, err
}

// Waveform decodes a WAV or FLAC blob into buckets peak values normalized so
// the loudest bucket is 1.
func Waveform(b *Blob, buckets int) ([]float32, AudioInfo, error) {
	if buckets <= 0 {
		return nil, AudioInfo{}, errors.ValidationError("waveform needs at least one bucket")
	}
	f, err := b.Open()
	if err != nil {
		return nil, AudioInfo{}, err
	}
	defer f.Close()

	format, err := detectFormat(f)
	if err != nil {
		return nil, AudioInfo{}, err
	}
	var peaks []float32
	var info AudioInfo
	if format == formatFLAC {
		peaks, info, err = flacPeaks(f)
	} else {
		peaks, info, err = wavPeaks(f)
	}
	if err != nil {
		return nil, AudioInfo{}, err
	}
	return rebucket(peaks, buckets), info, nil
}

// rebucket reduces or stretches peaks to n values and normalizes them.
func rebucket(peaks []float32, n int) []float32 {
	out := make([]float32, n)
	if len(peaks) == 0 {
		return out
	}
	var loudest float32
	for i := range n {
		start := i * len(peaks) / n
		end := max((i+1)*len(peaks)/n, start+1)
		var peak float32
		for _, p := range peaks[start:min(end, len(peaks))] {
			peak = max(peak, p)
		}
		out[i] = peak
		loudest = max(loudest, peak)
	}
	if loudest > 0 {
		for i := range out {
			out[i] /= loudest
		}
	}
	return out
}
