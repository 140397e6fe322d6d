// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunker splits document text into overlapping passages sized for
// embedding.
//
// Text is first cut into units: sentences ending in '.', '!' or '?' followed
// by whitespace, and lines separated by newline runs. Units are then packed
// greedily into chunks of at most maxChars characters. Each new chunk starts
// with the last overlap characters of the previous one so that a passage cut
// at a chunk boundary still appears whole somewhere.
//
// Lengths are counted in runes. A unit longer than maxChars is never split
// and becomes a chunk of its own.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 900
	DefaultOverlap  = 200
)

// Chunk splits text into chunks. It is pure and deterministic.
// maxChars <= 0 selects DefaultMaxChars; overlap <= 0 disables carry-over.
func Chunk(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}

	units := Units(text)
	chunks := []string{}
	if len(units) == 0 {
		return chunks
	}

	var buf strings.Builder
	bufLen := 0
	for _, unit := range units {
		unitLen := utf8.RuneCountInString(unit)
		if bufLen == 0 {
			buf.WriteString(unit)
			bufLen = unitLen
			continue
		}
		if bufLen+1+unitLen <= maxChars {
			buf.WriteByte(' ')
			buf.WriteString(unit)
			bufLen += 1 + unitLen
			continue
		}

		flushed := buf.String()
		chunks = append(chunks, flushed)
		buf.Reset()
		bufLen = 0

		// The carried tail shrinks so that it and the unit still fit.
		if seed := tail(flushed, min(overlap, maxChars-unitLen-1)); seed != "" {
			buf.WriteString(seed)
			buf.WriteByte(' ')
			bufLen = utf8.RuneCountInString(seed) + 1
		}
		buf.WriteString(unit)
		bufLen += unitLen
	}
	chunks = append(chunks, buf.String())
	return chunks
}

// Units splits text into trimmed, non-empty sentence and line units.
func Units(text string) []string {
	text = strings.TrimSpace(text)
	units := []string{}
	if text == "" {
		return units
	}

	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			units = append(units, s)
		}
	}

	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			emit(string(runes[start:i]))
			for i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			start = i + 1
		case (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			emit(string(runes[start : i+1]))
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
			start = i + 1
		}
	}
	emit(string(runes[start:]))
	return units
}

// tail returns at most n trailing runes of s without leading whitespace.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[len(runes)-n:]
	}
	return strings.TrimLeftFunc(string(runes), unicode.IsSpace)
}
