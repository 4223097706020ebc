package phonemize

// Missing counts phoneme symbols that had no entry in the id map.
type Missing map[string]int

// Add merges other into m.
func (m Missing) Add(other Missing) {
	for k, v := range other {
		m[k] += v
	}
}

// IDOptions controls how a phoneme sequence is framed.
type IDOptions struct {
	// InterspersePad inserts the pad id after bos and after every known
	// phoneme. Backends differ; it is never inferred from the map.
	InterspersePad bool
}

// IDs converts phonemes into an id sequence framed by bos and eos.
//
// Unknown symbols are skipped and counted in missing (which may be nil).
// bos, eos and pad must be present in idMap; callers validate that once via
// IDMap.Has before processing.
func IDs(phonemes []string, idMap IDMap, opts IDOptions, missing Missing) []int {
	ids := make([]int, 0, 2+len(phonemes)*2)
	pad := idMap[Pad]

	ids = append(ids, idMap[BOS]...)
	if opts.InterspersePad {
		ids = append(ids, pad...)
	}

	for _, p := range phonemes {
		mapped, ok := idMap[p]
		if !ok || len(mapped) == 0 {
			if missing != nil {
				missing[p]++
			}
			continue
		}
		ids = append(ids, mapped...)
		if opts.InterspersePad {
			ids = append(ids, pad...)
		}
	}

	ids = append(ids, idMap[EOS]...)
	return ids
}
