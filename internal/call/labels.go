// Package call owns the live assist session: it wires the audio recorder and
// the streaming transcription session together, labels speakers, keeps a
// rolling transcript window, and schedules suggestion/summary generation
// against the chat and memory collaborators.
package call

import "fmt"

// Mode selects how transcribed speech is attributed to the parties on a call.
type Mode string

const (
	// ModeMultichannel assigns parties by audio channel: one channel carries
	// the device user, every other channel the remote party.
	ModeMultichannel Mode = "multichannel"
	// ModeDiarized lets the recognizer tag speakers on a mixed-down channel.
	ModeDiarized Mode = "diarized"
)

// Speaker labels attached to captions and utterances.
const (
	LabelYou  = "You"
	LabelThem = "Them"
)

// LabelConfig fixes the speaker-labeling policy for one session.
type LabelConfig struct {
	Mode       Mode
	YouChannel int  // channel index carrying the device user's audio (multichannel)
	YouSpeaker *int // recognizer speaker id of the device user (diarized), nil if unknown
}

// SpeakerLabel maps a channel index and optional recognizer speaker id to a
// display label under the given policy. Interim captions call it with a nil
// speaker, so diarized captions get the generic label until words are tagged.
func SpeakerLabel(cfg LabelConfig, channel int, speaker *int) string {
	if cfg.Mode == ModeDiarized {
		if speaker == nil {
			return "Speaker"
		}
		if cfg.YouSpeaker != nil && *speaker == *cfg.YouSpeaker {
			return LabelYou
		}
		return fmt.Sprintf("Speaker %d", *speaker)
	}
	if channel == cfg.YouChannel {
		return LabelYou
	}
	return LabelThem
}
