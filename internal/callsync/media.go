package callsync

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// MediaSource hands out local tracks. Tracks are acquired lazily on the
// first toggle, reused until Stop releases them, and acquired fresh on the
// next use.
type MediaSource interface {
	Audio() (MediaTrack, error)
	Video() (MediaTrack, error)
	Stop() error
	Close() error
}

// SampleSource is a MediaSource producing pion sample tracks. Headless
// participants use it to hold a media slot in the call; whatever feeds the
// tracks (file playback, synthesized audio) writes samples into them.
type SampleSource struct {
	mu    sync.Mutex
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// NewSampleSource creates an empty sample source.
func NewSampleSource() *SampleSource {
	return &SampleSource{}
}

func (s *SampleSource) Audio() (MediaTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audio == nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			uuid.New().String(),
		)
		if err != nil {
			return nil, err
		}
		s.audio = track
	}
	return s.audio, nil
}

func (s *SampleSource) Video() (MediaTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video == nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			uuid.New().String(),
		)
		if err != nil {
			return nil, err
		}
		s.video = track
	}
	return s.video, nil
}

// AudioTrack returns the acquired audio track for sample writers, nil if the
// mic was never toggled on.
func (s *SampleSource) AudioTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// VideoTrack returns the acquired video track, nil if the camera was never
// toggled on.
func (s *SampleSource) VideoTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Stop releases the acquired tracks. Sample writers holding a track via
// AudioTrack or VideoTrack see it go away and must re-fetch after the next
// toggle.
func (s *SampleSource) Stop() error {
	s.mu.Lock()
	s.audio = nil
	s.video = nil
	s.mu.Unlock()
	return nil
}

func (s *SampleSource) Close() error {
	return s.Stop()
}
