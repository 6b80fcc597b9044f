package addons

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	fencedCodeRE = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRE = regexp.MustCompile("`[^`\n]+`")
	multiSpaceRE = regexp.MustCompile(`  +`)
	trailingRE   = regexp.MustCompile(`(?m)[ \t]+$`)
)

// WhitespaceMinimizerAddon compacts prompt whitespace to shave input tokens.
// Code spans (fenced blocks and inline backticks) are preserved byte-for-byte;
// everywhere else runs of spaces collapse to one, tabs become spaces, trailing
// whitespace is stripped, and newline runs are capped at maxNewlines.
//
// Register it before a cache addon so cache keys reflect the minimized prompt.
type WhitespaceMinimizerAddon struct {
	NopAddon

	maxNewlines int
	newlineRE   *regexp.Regexp
	newlineCap  string

	mu         sync.Mutex
	processed  int64
	charsSaved int64
}

// NewWhitespaceMinimizerAddon creates a minimizer. maxNewlines < 1 defaults to 2.
func NewWhitespaceMinimizerAddon(maxNewlines int) *WhitespaceMinimizerAddon {
	if maxNewlines < 1 {
		maxNewlines = 2
	}
	return &WhitespaceMinimizerAddon{
		maxNewlines: maxNewlines,
		newlineRE:   regexp.MustCompile(`\n{` + strconv.Itoa(maxNewlines+1) + `,}`),
		newlineCap:  strings.Repeat("\n", maxNewlines),
	}
}

func (w *WhitespaceMinimizerAddon) Name() string { return "whitespace_minimizer" }

func (w *WhitespaceMinimizerAddon) Description() string {
	return "compacts prompt whitespace while preserving code spans"
}

// PreRequest rewrites the prompt when minimization changes it.
func (w *WhitespaceMinimizerAddon) PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error) {
	minimized := w.Minimize(prompt)

	w.mu.Lock()
	w.processed++
	if saved := len(prompt) - len(minimized); saved > 0 {
		w.charsSaved += int64(saved)
	}
	w.mu.Unlock()

	if minimized == prompt {
		return Unchanged(), nil
	}
	return Continue(minimized), nil
}

// Minimize returns the compacted form of text.
func (w *WhitespaceMinimizerAddon) Minimize(text string) string {
	segments := splitCodeSegments(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, seg := range segments {
		if seg.code {
			b.WriteString(seg.text)
		} else {
			b.WriteString(w.minimizeText(seg.text))
		}
	}
	return b.String()
}

func (w *WhitespaceMinimizerAddon) minimizeText(text string) string {
	text = strings.ReplaceAll(text, "\t", " ")
	text = multiSpaceRE.ReplaceAllString(text, " ")
	text = trailingRE.ReplaceAllString(text, "")
	return w.newlineRE.ReplaceAllString(text, w.newlineCap)
}

type textSegment struct {
	text string
	code bool
}

// splitCodeSegments partitions text into alternating plain and code spans.
// Fenced blocks take precedence; inline matches inside a fence are ignored.
func splitCodeSegments(text string) []textSegment {
	var ranges [][2]int
	for _, m := range fencedCodeRE.FindAllStringIndex(text, -1) {
		ranges = append(ranges, [2]int{m[0], m[1]})
	}
	for _, m := range inlineCodeRE.FindAllStringIndex(text, -1) {
		if !overlaps(ranges, m[0], m[1]) {
			ranges = append(ranges, [2]int{m[0], m[1]})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })

	var segs []textSegment
	prev := 0
	for _, r := range ranges {
		if r[0] > prev {
			segs = append(segs, textSegment{text: text[prev:r[0]]})
		}
		segs = append(segs, textSegment{text: text[r[0]:r[1]], code: true})
		prev = r[1]
	}
	if prev < len(text) {
		segs = append(segs, textSegment{text: text[prev:]})
	}
	return segs
}

func overlaps(ranges [][2]int, start, end int) bool {
	for _, r := range ranges {
		if start < r[1] && end > r[0] {
			return true
		}
	}
	return false
}

// Stats reports how many prompts were processed and characters removed.
func (w *WhitespaceMinimizerAddon) Stats() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"processed":    w.processed,
		"chars_saved":  w.charsSaved,
		"max_newlines": w.maxNewlines,
	}
}
