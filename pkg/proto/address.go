package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxCol is the highest valid 1-indexed column number (spec §6: "the valid
// column range is [1, 16384]").
const MaxCol = 16384

// Address is a parsed A1-notation cell reference. Row/Col are 1-indexed to
// match the spreadsheet convention the wire protocol speaks; callers that
// need the engine's 0-indexed row/col (as used by edit operations and
// recalculate deltas) subtract 1 themselves.
type Address struct {
	Col    int
	Row    int
	ColAbs bool
	RowAbs bool
}

// ParseAddress parses A1 notation with optional '$' anchors, e.g. "A1",
// "$B$12", "Z$3". It rejects columns beyond MaxCol.
func ParseAddress(s string) (Address, error) {
	var a Address
	i := 0
	if i < len(s) && s[i] == '$' {
		a.ColAbs = true
		i++
	}
	start := i
	for i < len(s) && isAlpha(s[i]) {
		i++
	}
	if i == start {
		return Address{}, fmt.Errorf("proto: invalid address %q: missing column letters", s)
	}
	col, err := columnToIndex(s[start:i])
	if err != nil {
		return Address{}, fmt.Errorf("proto: invalid address %q: %w", s, err)
	}
	a.Col = col

	if i < len(s) && s[i] == '$' {
		a.RowAbs = true
		i++
	}
	rowStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == rowStart || i != len(s) {
		return Address{}, fmt.Errorf("proto: invalid address %q: missing or malformed row", s)
	}
	row, err := strconv.Atoi(s[rowStart:i])
	if err != nil || row < 1 {
		return Address{}, fmt.Errorf("proto: invalid address %q: bad row", s)
	}
	a.Row = row
	return a, nil
}

// columnToIndex converts a base-26 column name ('A'=1, 'Z'=26, 'AA'=27, ...)
// to its 1-indexed column number, rejecting anything beyond MaxCol.
func columnToIndex(letters string) (int, error) {
	col := 0
	for _, c := range letters {
		c = toUpper(c)
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("non-letter %q in column", c)
		}
		col = col*26 + int(c-'A'+1)
		if col > MaxCol {
			return 0, fmt.Errorf("column beyond max %d", MaxCol)
		}
	}
	if col == 0 || col > MaxCol {
		return 0, fmt.Errorf("column %d out of range [1, %d]", col, MaxCol)
	}
	return col, nil
}

// ColumnName renders a 1-indexed column number back to base-26 letters.
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// String renders the address back to A1 notation, including any anchors.
func (a Address) String() string {
	var sb strings.Builder
	if a.ColAbs {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(a.Col))
	if a.RowAbs {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(a.Row))
	return sb.String()
}

func isAlpha(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// NormalizeSheetName trims whitespace; an empty or all-whitespace result
// signals "use the default sheet" to callers, per spec §4.2 "Sheet-name
// parameters are trimmed; empty/whitespace resolves to the first sheet's
// canonical name."
func NormalizeSheetName(name string) string {
	return strings.TrimSpace(name)
}
