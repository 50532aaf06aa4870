package subtitles

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// timestampPattern matches an SRT timestamp pair: "HH:MM:SS,mmm -->
// HH:MM:SS,mmm", per spec §4.5.
var timestampPattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// fontTagPattern strips <font ...> and </font> tags while preserving their
// content; <i>, <b>, <u> are left untouched, per spec §4.5.
var fontTagPattern = regexp.MustCompile(`(?i)</?font[^>]*>`)

// minCueDurationMillis rejects cues shorter than 0.1s, per spec §4.5.
const minCueDurationMillis = 100

// SRTtoVTT converts an SRT document to WebVTT per spec §4.5's bit-level
// rules. It rejects malformed blocks individually (bad timestamp regex,
// duration < 0.1s, or empty text) rather than failing the whole document,
// and fails validation (returning an error) only if fewer than 80% of
// input blocks parsed or zero cues were emitted.
func SRTtoVTT(input string) (string, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(input, "\r\n", "\n"), "\r", "\n")
	blocks := splitBlocks(normalized)

	var out strings.Builder
	out.WriteString("WEBVTT\n\n")

	emitted := 0
	for _, block := range blocks {
		cue, ok := parseBlock(block)
		if !ok {
			continue
		}
		emitted++
		out.WriteString(strconv.Itoa(emitted))
		out.WriteString("\n")
		out.WriteString(cue.start)
		out.WriteString(" --> ")
		out.WriteString(cue.end)
		out.WriteString("\n")
		out.WriteString(cue.text)
		out.WriteString("\n\n")
	}

	if len(blocks) == 0 || emitted == 0 {
		return "", fmt.Errorf("no valid cues parsed from %d input blocks", len(blocks))
	}
	if float64(emitted)/float64(len(blocks)) < 0.8 {
		return "", fmt.Errorf("only %d/%d blocks parsed (< 80%%)", emitted, len(blocks))
	}

	return out.String(), nil
}

type cue struct {
	start, end, text string
}

// splitBlocks splits on one-or-more blank lines, per spec §4.5.
func splitBlocks(s string) []string {
	raw := regexp.MustCompile(`\n{2,}`).Split(strings.TrimSpace(s), -1)
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func parseBlock(block string) (cue, bool) {
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	if len(lines) < 3 {
		return cue{}, false
	}

	// line 1: integer index, validated but otherwise ignored.
	if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
		return cue{}, false
	}

	m := timestampPattern.FindStringSubmatch(strings.TrimSpace(lines[1]))
	if m == nil {
		return cue{}, false
	}

	startMs := timestampMillis(m[1], m[2], m[3], m[4])
	endMs := timestampMillis(m[5], m[6], m[7], m[8])
	if endMs-startMs < minCueDurationMillis {
		return cue{}, false
	}

	text := strings.Join(lines[2:], "\n")
	text = fontTagPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return cue{}, false
	}

	return cue{
		start: fmt.Sprintf("%s:%s:%s.%s", m[1], m[2], m[3], m[4]),
		end:   fmt.Sprintf("%s:%s:%s.%s", m[5], m[6], m[7], m[8]),
		text:  text,
	}, true
}

func timestampMillis(hh, mm, ss, ms string) int {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	s, _ := strconv.Atoi(ss)
	milli, _ := strconv.Atoi(ms)
	return ((h*60+m)*60+s)*1000 + milli
}
