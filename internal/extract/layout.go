package extract

import (
	"regexp"
	"strings"

	"finsight/internal/models"
)

// Layout recovery over pdftotext -layout output. Blocks are blank-line
// separated runs of lines in reading order. Tables are inferred from
// consecutive lines whose columns align geometrically: layout mode preserves
// horizontal positions, so cell boundaries show up as aligned runs of
// whitespace.

var cellGap = regexp.MustCompile(`\s{2,}`)

// SegmentBlocks splits page text into reading-order text blocks.
func SegmentBlocks(text string) []models.TextBlock {
	var blocks []models.TextBlock
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.TrimRight(strings.Join(current, "\n"), " \n")
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, models.TextBlock{Index: len(blocks), Text: joined})
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, strings.TrimRight(line, " "))
	}
	flush()
	return blocks
}

// tableRow is one line split into cells at multi-space gaps, keeping the
// start offset of each cell for alignment checks.
type tableRow struct {
	cells   []string
	offsets []int
}

func splitRow(line string) tableRow {
	var row tableRow
	pos := 0
	for _, part := range cellGap.Split(line, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		off := strings.Index(line[pos:], part)
		if off < 0 {
			off = 0
		}
		row.cells = append(row.cells, part)
		row.offsets = append(row.offsets, pos+off)
		pos += off + len(part)
	}
	return row
}

// aligned reports whether two rows form the same grid: equal cell counts and
// cell start positions within a small tolerance.
func aligned(a, b tableRow) bool {
	const tolerance = 3
	if len(a.cells) != len(b.cells) {
		return false
	}
	for i := range a.offsets {
		d := a.offsets[i] - b.offsets[i]
		if d < -tolerance || d > tolerance {
			return false
		}
	}
	return true
}

// DetectTables recovers simple grids from layout text. A table is two or
// more consecutive lines with at least two columns each, sharing aligned
// cell boundaries.
func DetectTables(text string) []models.Table {
	lines := strings.Split(text, "\n")
	var tables []models.Table
	var run []tableRow

	flush := func() {
		if len(run) >= 2 {
			rows := make([][]string, len(run))
			for i, r := range run {
				rows[i] = r.cells
			}
			tables = append(tables, models.Table{Rows: rows})
		}
		run = run[:0]
	}

	for _, line := range lines {
		row := splitRow(line)
		if len(row.cells) < 2 {
			flush()
			continue
		}
		if len(run) > 0 && !aligned(run[0], row) {
			flush()
		}
		run = append(run, row)
	}
	flush()
	return tables
}
