// Package dataset enumerates utterances from corpus layouts and assigns
// speaker ids.
package dataset

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/example/go-piper-preprocess/internal/phonemize"
)

// keySpace namespaces utterance keys.
var keySpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("piperprep/utterance"))

// Utterance is one audio/transcript pair. The scanner fills Text, AudioPath
// and Speaker; the pipeline fills the rest.
type Utterance struct {
	Text          string
	AudioPath     string
	Speaker       string
	SpeakerID     *int
	Phonemes      []string
	PhonemeIDs    []int
	AudioNormPath string
	AudioSpecPath string

	// Line is the 1-based metadata row the utterance came from.
	Line int
	// Missing is not serialized.
	Missing phonemize.Missing
}

// Key is a stable identity derived from the audio path and transcript. It
// does not change when the pipeline enriches the utterance.
func (u Utterance) Key() string {
	return KeyOf(u.AudioPath, u.Text)
}

// KeyOf returns the key an utterance with audioPath and text would have.
func KeyOf(audioPath, text string) string {
	return uuid.NewSHA1(keySpace, []byte(audioPath+"\x00"+text)).String()
}

// record is the dataset line layout. Absent values are written as null.
type record struct {
	Text          string   `json:"text"`
	AudioPath     string   `json:"audio_path"`
	Speaker       *string  `json:"speaker"`
	SpeakerID     *int     `json:"speaker_id"`
	Phonemes      []string `json:"phonemes"`
	PhonemeIDs    []int    `json:"phoneme_ids"`
	AudioNormPath *string  `json:"audio_norm_path"`
	AudioSpecPath *string  `json:"audio_spec_path"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON writes the dataset line layout.
func (u Utterance) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		Text:          u.Text,
		AudioPath:     u.AudioPath,
		Speaker:       optional(u.Speaker),
		SpeakerID:     u.SpeakerID,
		Phonemes:      u.Phonemes,
		PhonemeIDs:    u.PhonemeIDs,
		AudioNormPath: optional(u.AudioNormPath),
		AudioSpecPath: optional(u.AudioSpecPath),
	})
}

// UnmarshalJSON reads a dataset line.
func (u *Utterance) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*u = Utterance{
		Text:       r.Text,
		AudioPath:  r.AudioPath,
		SpeakerID:  r.SpeakerID,
		Phonemes:   r.Phonemes,
		PhonemeIDs: r.PhonemeIDs,
	}
	if r.Speaker != nil {
		u.Speaker = *r.Speaker
	}
	if r.AudioNormPath != nil {
		u.AudioNormPath = *r.AudioNormPath
	}
	if r.AudioSpecPath != nil {
		u.AudioSpecPath = *r.AudioSpecPath
	}
	return nil
}
