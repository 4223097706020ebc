package dataset

import (
	"context"
	"sort"
)

// SpeakerRegistry maps speaker labels to dense ids. Ids are ordered by
// descending utterance count; ties keep first-seen order. The unlabeled
// speaker "" is a label like any other.
type SpeakerRegistry struct {
	ids    map[string]int
	labels []string
	counts map[string]int
}

// SpeakerCounter tallies labels during the pre-scan.
type SpeakerCounter struct {
	counts map[string]int
	order  []string
}

// NewSpeakerCounter returns an empty counter.
func NewSpeakerCounter() *SpeakerCounter {
	return &SpeakerCounter{counts: make(map[string]int)}
}

// Add counts one utterance by label.
func (c *SpeakerCounter) Add(label string) {
	if _, ok := c.counts[label]; !ok {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

// Registry freezes the counts into a SpeakerRegistry.
func (c *SpeakerCounter) Registry() *SpeakerRegistry {
	labels := append([]string(nil), c.order...)
	sort.SliceStable(labels, func(i, j int) bool {
		return c.counts[labels[i]] > c.counts[labels[j]]
	})

	r := &SpeakerRegistry{
		ids:    make(map[string]int, len(labels)),
		labels: labels,
		counts: make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		r.ids[l] = i
		r.counts[l] = c.counts[l]
	}
	return r
}

// Len returns the number of distinct labels.
func (r *SpeakerRegistry) Len() int {
	return len(r.labels)
}

// MultiSpeaker reports whether more than one label was seen.
func (r *SpeakerRegistry) MultiSpeaker() bool {
	return len(r.labels) > 1
}

// ID returns the id of label.
func (r *SpeakerRegistry) ID(label string) (int, bool) {
	id, ok := r.ids[label]
	return id, ok
}

// Labels returns labels in id order.
func (r *SpeakerRegistry) Labels() []string {
	return append([]string(nil), r.labels...)
}

// Count returns the number of utterances seen for label.
func (r *SpeakerRegistry) Count(label string) int {
	return r.counts[label]
}

// Map returns label → id for the manifest. It is empty for single-speaker
// corpora.
func (r *SpeakerRegistry) Map() map[string]int {
	out := make(map[string]int, len(r.ids))
	if !r.MultiSpeaker() {
		return out
	}
	for l, id := range r.ids {
		out[l] = id
	}
	return out
}

// Census is the result of a pre-scan.
type Census struct {
	Utterances int
	Speakers   *SpeakerRegistry
}

// Count scans the corpus once.
func Count(ctx context.Context, s Scanner) (Census, error) {
	counter := NewSpeakerCounter()
	n := 0
	err := s.Scan(ctx, func(u Utterance) error {
		counter.Add(u.Speaker)
		n++
		return nil
	})
	if err != nil {
		return Census{}, err
	}
	return Census{Utterances: n, Speakers: counter.Registry()}, nil
}

// AssignSpeaker sets u.SpeakerID. Multi-speaker corpora use the registry;
// single-speaker corpora use fixed when it is not negative and leave the id
// unset otherwise.
func (r *SpeakerRegistry) AssignSpeaker(u *Utterance, fixed int) {
	if r.MultiSpeaker() {
		if id, ok := r.ids[u.Speaker]; ok {
			u.SpeakerID = &id
		}
		return
	}
	if fixed >= 0 {
		id := fixed
		u.SpeakerID = &id
	}
}
