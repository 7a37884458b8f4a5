// Package scanner extracts single fields from JSON frames without
// allocating or decoding the whole document. Feed handlers use it to
// sniff the frame type before committing to a full unmarshal.
package scanner

import "bytes"

// ScanStringField returns the raw value of the first string field whose
// quoted key appears in payload. The key must include its quotes, e.g.
// []byte(`"type"`). Values containing escape sequences are rejected so
// callers never see a partially unescaped string.
func ScanStringField(payload, key []byte) ([]byte, bool) {
	i := skipToValue(payload, key)
	if i < 0 || i >= len(payload) || payload[i] != '"' {
		return nil, false
	}
	i++
	start := i
	for ; i < len(payload); i++ {
		switch payload[i] {
		case '\\':
			return nil, false
		case '"':
			return payload[start:i], true
		}
	}
	return nil, false
}

// ScanUintField returns the value of the first unsigned integer field
// whose quoted key appears in payload.
func ScanUintField(payload, key []byte) (uint64, bool) {
	i := skipToValue(payload, key)
	if i < 0 || i >= len(payload) || payload[i] < '0' || payload[i] > '9' {
		return 0, false
	}
	var v uint64
	for ; i < len(payload) && payload[i] >= '0' && payload[i] <= '9'; i++ {
		v = v*10 + uint64(payload[i]-'0')
	}
	return v, true
}

// skipToValue positions past the key, the colon and any whitespace,
// returning the index of the first value byte or -1.
func skipToValue(payload, key []byte) int {
	idx := bytes.Index(payload, key)
	if idx < 0 {
		return -1
	}
	i := idx + len(key)
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != ':' {
		return -1
	}
	i++
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
