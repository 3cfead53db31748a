package frames

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrNoAtoms = errors.New("frames: snapshot has no ATOM or HETATM records")

type ParseError struct {
	Line   int
	Record string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frames: line %d (%s): %v", e.Line, e.Record, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var elementNumbers = map[string]uint32{
	"H": 1, "HE": 2, "LI": 3, "BE": 4, "B": 5, "C": 6, "N": 7, "O": 8, "F": 9, "NE": 10,
	"NA": 11, "MG": 12, "AL": 13, "SI": 14, "P": 15, "S": 16, "CL": 17, "AR": 18, "K": 19, "CA": 20,
	"MN": 25, "FE": 26, "CO": 27, "NI": 28, "CU": 29, "ZN": 30, "SE": 34, "BR": 35, "I": 53,
}

// ParsePDB reads the first model of a PDB snapshot. Coordinates are
// converted from ångströms to nanometres; CONECT records become bonds.
func ParsePDB(text string) (Frame, error) {
	var (
		f          Frame
		serials    = make(map[int]uint32)
		chains     = make(map[string]uint32)
		lastResKey string
		bonds      = make(map[[2]uint32]struct{})
		conects    [][]int
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 256), 1<<20)
	lineNo := 0
scan:
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		record := strings.TrimSpace(field(line, 0, 6))
		switch record {
		case "ATOM", "HETATM":
			if len(line) < 54 {
				return Frame{}, &ParseError{Line: lineNo, Record: record, Err: errors.New("record shorter than coordinate columns")}
			}
			pos, err := coords(line)
			if err != nil {
				return Frame{}, &ParseError{Line: lineNo, Record: record, Err: err}
			}
			idx := uint32(len(f.Positions))
			if serial, err := strconv.Atoi(strings.TrimSpace(field(line, 6, 11))); err == nil {
				serials[serial] = idx
			}
			name := strings.TrimSpace(field(line, 12, 16))
			resName := strings.TrimSpace(field(line, 17, 20))
			chainID := strings.TrimSpace(field(line, 21, 22))
			resSeqText := strings.TrimSpace(field(line, 22, 26))
			resKey := chainID + "|" + resSeqText + field(line, 26, 27) + "|" + resName

			if resKey != lastResKey || len(f.ResidueNames) == 0 {
				chain, ok := chains[chainID]
				if !ok {
					chain = uint32(len(f.ChainNames))
					chains[chainID] = chain
					f.ChainNames = append(f.ChainNames, chainID)
				}
				resSeq, _ := strconv.Atoi(resSeqText)
				f.ResidueNames = append(f.ResidueNames, resName)
				f.ResidueIDs = append(f.ResidueIDs, resSeq)
				f.ResidueChains = append(f.ResidueChains, chain)
				lastResKey = resKey
			}

			f.Positions = append(f.Positions, pos)
			f.Names = append(f.Names, name)
			f.Elements = append(f.Elements, element(strings.TrimSpace(field(line, 76, 78)), name))
			f.ParticleResidues = append(f.ParticleResidues, uint32(len(f.ResidueNames)-1))
		case "CONECT":
			var ids []int
			for start := 6; start+5 <= len(line) && start < 31; start += 5 {
				s := strings.TrimSpace(line[start : start+5])
				if s == "" {
					continue
				}
				n, err := strconv.Atoi(s)
				if err != nil {
					return Frame{}, &ParseError{Line: lineNo, Record: record, Err: err}
				}
				ids = append(ids, n)
			}
			conects = append(conects, ids)
		case "ENDMDL":
			break scan
		}
	}
	if err := sc.Err(); err != nil {
		return Frame{}, err
	}
	if len(f.Positions) == 0 {
		return Frame{}, ErrNoAtoms
	}
	for _, ids := range conects {
		if len(ids) < 2 {
			continue
		}
		from, ok := serials[ids[0]]
		if !ok {
			continue
		}
		for _, other := range ids[1:] {
			to, ok := serials[other]
			if !ok || to == from {
				continue
			}
			pair := [2]uint32{min(from, to), max(from, to)}
			if _, dup := bonds[pair]; dup {
				continue
			}
			bonds[pair] = struct{}{}
			f.Bonds = append(f.Bonds, pair)
		}
	}
	f.ParticleCount = len(f.Positions)
	return f, nil
}

func field(line string, start, end int) string {
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}

func coords(line string) ([3]float32, error) {
	var out [3]float32
	for i, span := range [3][2]int{{30, 38}, {38, 46}, {46, 54}} {
		v, err := strconv.ParseFloat(strings.TrimSpace(line[span[0]:span[1]]), 32)
		if err != nil {
			return out, err
		}
		out[i] = float32(v / 10)
	}
	return out, nil
}

func element(symbol, atomName string) uint32 {
	if symbol == "" {
		symbol = strings.TrimLeftFunc(atomName, unicode.IsDigit)
		if symbol != "" {
			symbol = symbol[:1]
		}
	}
	return elementNumbers[strings.ToUpper(symbol)]
}
