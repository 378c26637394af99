package statement

import "fiat-reconciliation-backend/internal/cfonb"

// Split cuts a file into statements: a statement ends with each closing
// balance (07) record. Records after the last closing balance are dropped,
// so a file without any 07 record yields no statement at all.
func Split(lines []cfonb.Line) [][]cfonb.Line {
	var statements [][]cfonb.Line
	start := 0
	for i, l := range lines {
		if l.Kind() == cfonb.KindClosingBalance {
			statements = append(statements, lines[start:i+1:i+1])
			start = i + 1
		}
	}
	return statements
}
