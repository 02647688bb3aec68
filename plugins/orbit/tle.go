package orbit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTLE is returned for element sets that are not two well-formed
// lines describing the same object.
var ErrInvalidTLE = errors.New("invalid two-line element set")

const tleLineLen = 69

// TLE is a named two-line element set.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

// CatalogNumber returns the satellite catalog number shared by both lines.
func (t TLE) CatalogNumber() string {
	return strings.TrimSpace(t.Line1[2:7])
}

// Validate checks line length, line numbers and that both lines refer to
// the same catalog number. SGP4 parsing itself is left to go-satellite.
func (t TLE) Validate() error {
	if len(t.Line1) < tleLineLen || len(t.Line2) < tleLineLen {
		return fmt.Errorf("%w: lines must be %d characters", ErrInvalidTLE, tleLineLen)
	}
	if !strings.HasPrefix(t.Line1, "1 ") || !strings.HasPrefix(t.Line2, "2 ") {
		return fmt.Errorf("%w: bad line numbers", ErrInvalidTLE)
	}
	if t.Line1[2:7] != t.Line2[2:7] {
		return fmt.Errorf("%w: catalog numbers %q and %q differ", ErrInvalidTLE, t.Line1[2:7], t.Line2[2:7])
	}
	return nil
}

// ParseTLEs reads element sets in two- or three-line form. A line that is
// neither line 1 nor line 2 names the set that follows it.
func ParseTLEs(data []byte) ([]TLE, error) {
	var (
		out  []TLE
		cur  TLE
		line int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), " \r")
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, "1 "):
			cur.Line1 = text
		case strings.HasPrefix(text, "2 "):
			if cur.Line1 == "" {
				return nil, fmt.Errorf("line %d: %w: line 2 without line 1", line, ErrInvalidTLE)
			}
			cur.Line2 = text
			if err := cur.Validate(); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if cur.Name == "" {
				cur.Name = cur.CatalogNumber()
			}
			out = append(out, cur)
			cur = TLE{}
		default:
			cur = TLE{Name: strings.TrimSpace(strings.TrimPrefix(text, "0 "))}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cur.Line1 != "" {
		return nil, fmt.Errorf("%w: trailing line 1 for %q", ErrInvalidTLE, cur.Name)
	}
	return out, nil
}
