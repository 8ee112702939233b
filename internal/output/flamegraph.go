package output

import (
	"bufio"
	"cmp"
	"fmt"
	"html"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
)

// FoldedStack is one line of the folded stack format read by flamegraph.pl:
// frames joined by ';' and a weight.
type FoldedStack struct {
	Stack string
	Value int64
}

// FoldSlices turns every closed thread slice into a folded stack rooted at
// "process;thread". The weight is the slice's self time in microseconds.
func FoldSlices(f *model.Fragment) []FoldedStack {
	weights := make(map[string]int64)
	for _, p := range f.Processes {
		for _, t := range p.Threads {
			root := []string{frameName(p.Name, p.ID), frameName(t.Name, t.ID)}
			foldSlices(t.Slices, root, weights)
		}
	}
	stacks := make([]FoldedStack, 0, len(weights))
	for stack, v := range weights {
		stacks = append(stacks, FoldedStack{Stack: stack, Value: v})
	}
	slices.SortFunc(stacks, func(a, b FoldedStack) int { return cmp.Compare(a.Stack, b.Stack) })
	return stacks
}

func foldSlices(ss []*model.Slice, path []string, weights map[string]int64) {
	for _, s := range ss {
		if !s.Closed {
			continue
		}
		frames := append(slices.Clip(path), strings.ReplaceAll(s.Name, ";", ":"))
		self := s.Duration
		for _, c := range s.Children {
			if c.Closed {
				self -= c.Duration
			}
		}
		if us := int64(math.Round(max(0, self) * 1e6)); us > 0 {
			weights[strings.Join(frames, ";")] += us
		}
		foldSlices(s.Children, frames, weights)
	}
}

func frameName(name string, id int32) string {
	if name == "" {
		return fmt.Sprintf("[%d]", id)
	}
	return fmt.Sprintf("%s [%d]", strings.ReplaceAll(name, ";", ":"), id)
}

// WriteFolded writes stacks in folded format, one per line.
func WriteFolded(w io.Writer, stacks []FoldedStack) error {
	bw := bufio.NewWriter(w)
	for _, s := range stacks {
		fmt.Fprintf(bw, "%s %d\n", s.Stack, s.Value)
	}
	return bw.Flush()
}

// FlameGraphSVG renders folded stacks as a simple flame graph. Frames with
// the same prefix are not merged across stacks; pipe WriteFolded output to
// flamegraph.pl for a full rendering.
func FlameGraphSVG(stacks []FoldedStack, title string) string {
	if len(stacks) == 0 {
		return ""
	}

	var total int64
	for _, s := range stacks {
		total += s.Value
	}
	if total == 0 {
		return ""
	}

	const (
		width       = 1200
		height      = 400
		frameHeight = 16
		fontSize    = 12
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" standalone="no"?>
<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd">
<svg version="1.1" width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<style>
  .func { font-family: monospace; font-size: %dpx; }
  rect:hover { stroke: black; stroke-width: 1; }
</style>
<text x="10" y="20" class="func" style="font-size:14px; font-weight:bold">%s: %s</text>
`, width, height, fontSize, html.EscapeString(title), seconds(float64(total)/1e6))

	colors := []string{
		"#ff6633", "#ff8855", "#ffaa77", "#ffcc99",
		"#ff5533", "#ff7744", "#ff9966", "#ffbb88",
	}

	x := 10.0
	for _, stack := range stacks {
		w := float64(stack.Value) / float64(total) * float64(width-20)
		for depth, name := range strings.Split(stack.Stack, ";") {
			y := float64(height-30) - float64(depth*frameHeight)
			if w < 1 || y < 30 {
				continue
			}
			label := name
			if maxChars := int(w / 7); len(label) > maxChars {
				if maxChars > 3 {
					label = label[:maxChars-2] + ".."
				} else {
					label = ""
				}
			}
			fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%d" fill="%s" rx="1"><title>%s</title></rect>`,
				x, y, w, frameHeight-1, colors[depth%len(colors)], html.EscapeString(name))
			if label != "" {
				fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" class="func">%s</text>`,
					x+2, y+float64(frameHeight-3), html.EscapeString(label))
			}
			sb.WriteString("\n")
		}
		x += w
	}

	sb.WriteString("</svg>\n")
	return sb.String()
}
