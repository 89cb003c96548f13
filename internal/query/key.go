package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a query. Elements are compared by their JSON encoding, so
// a nil *string and a nil interface both encode as null.
type Key []any

func encodeElem(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return b
}

// Hash is the stable cache identity of k.
func (k Key) Hash() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range k {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.Write(encodeElem(v))
	}
	sb.WriteByte(']')
	return sb.String()
}

func (k Key) String() string { return k.Hash() }

// Family is the first element when it is a string. It labels metrics, so
// only the leading element is used to keep cardinality bounded.
func (k Key) Family() string {
	if len(k) == 0 {
		return "none"
	}
	if s, ok := k[0].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// HasPrefix reports whether k starts with every element of p.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if !bytes.Equal(encodeElem(k[i]), encodeElem(p[i])) {
			return false
		}
	}
	return true
}
