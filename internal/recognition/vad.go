package recognition

import (
	"fmt"
	"math"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/ent0n29/livevoice/internal/audio"
)

const (
	vadFrame      = 30 * time.Millisecond
	vadFrameBytes = audio.SampleRate * 30 / 1000 * audio.BytesPerSample // 960 bytes
)

// ApplyVAD keeps only the voiced regions of canonical PCM. Each 30 ms frame
// is classified by the WebRTC detector running in the mode derived from the
// threshold. Gaps shorter than MinSilence are bridged, runs shorter than
// MinSpeech dropped, and survivors padded by SpeechPad on both sides. The
// result is nil when no speech is found.
func ApplyVAD(pcm []byte, p VADParams) ([]byte, error) {
	if len(pcm) < audio.BytesPerSample {
		return nil, nil
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("init vad: %w", err)
	}
	if err := v.SetMode(vadMode(p.Threshold)); err != nil {
		return nil, fmt.Errorf("set vad mode: %w", err)
	}

	nFrames := (len(pcm) + vadFrameBytes - 1) / vadFrameBytes
	voiced := make([]bool, nFrames)
	frame := make([]byte, vadFrameBytes)
	for i := range voiced {
		// The tail frame is zero-padded; the detector only accepts whole frames.
		clear(frame)
		copy(frame, pcm[i*vadFrameBytes:min((i+1)*vadFrameBytes, len(pcm))])
		active, err := v.Process(audio.SampleRate, frame)
		if err != nil {
			return nil, fmt.Errorf("vad frame %d: %w", i, err)
		}
		voiced[i] = active
	}
	return selectSpeech(pcm, voiced, p), nil
}

// vadMode maps a speech probability threshold onto WebRTC aggressiveness
// (0 most permissive, 3 most strict).
func vadMode(threshold float64) int {
	return int(math.Max(0, math.Min(3, math.Floor(threshold*4))))
}

// selectSpeech cuts the voiced regions out of pcm given one flag per 30 ms
// frame.
func selectSpeech(pcm []byte, voiced []bool, p VADParams) []byte {
	frameLen := vadFrameBytes / audio.BytesPerSample
	nSamples := len(pcm) / audio.BytesPerSample

	segs := speechRuns(voiced)
	segs = bridgeGaps(segs, framesFor(p.MinSilence))
	minSpeech := framesFor(p.MinSpeech)
	kept := segs[:0]
	for _, s := range segs {
		if s.end-s.start >= minSpeech {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	pad := int(p.SpeechPad.Seconds() * audio.SampleRate)
	var out []byte
	lastEnd := 0
	for _, s := range kept {
		from := max(s.start*frameLen-pad, lastEnd)
		to := min(s.end*frameLen+pad, nSamples)
		if from >= to {
			continue
		}
		out = append(out, pcm[from*audio.BytesPerSample:to*audio.BytesPerSample]...)
		lastEnd = to
	}
	return out
}

type run struct{ start, end int }

func speechRuns(voiced []bool) []run {
	var runs []run
	for i := 0; i < len(voiced); i++ {
		if !voiced[i] {
			continue
		}
		j := i
		for j < len(voiced) && voiced[j] {
			j++
		}
		runs = append(runs, run{start: i, end: j})
		i = j
	}
	return runs
}

func bridgeGaps(runs []run, minGap int) []run {
	if len(runs) < 2 {
		return runs
	}
	out := []run{runs[0]}
	for _, r := range runs[1:] {
		last := &out[len(out)-1]
		if r.start-last.end < minGap {
			last.end = r.end
			continue
		}
		out = append(out, r)
	}
	return out
}

func framesFor(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(vadFrame)))
}
