package sink

import (
	"bytes"
	"encoding/json"
)

// encodeAuthorsMap serializes the author-to-affiliation mapping as a JSON
// object, preserving the insertion order captured in names so repeated runs
// produce byte-identical rows. Names missing from the map are skipped;
// map keys not listed in names are appended in no particular order.
func encodeAuthorsMap(names []string, m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	written := make(map[string]struct{}, len(m))
	first := true
	writePair := func(name, place string) {
		if !first {
			buf.WriteString(", ")
		}
		first = false
		key, _ := json.Marshal(name)
		val, _ := json.Marshal(place)
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}

	for _, name := range names {
		place, ok := m[name]
		if !ok {
			continue
		}
		writePair(name, place)
		written[name] = struct{}{}
	}
	for name, place := range m {
		if _, ok := written[name]; ok {
			continue
		}
		writePair(name, place)
	}
	buf.WriteByte('}')
	return buf.String()
}
