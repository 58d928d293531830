package structure

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Residue is one amino acid position described by its alpha-carbon atom.
// For predicted structures (AlphaFold-style PDB files) the B-factor column
// carries the per-residue pLDDT confidence.
type Residue struct {
	Chain   string
	ResName string
	ResNum  int
	X       float64
	Y       float64
	Z       float64
	PLDDT   float64
}

type Summary struct {
	Residues  []Residue
	MeanPLDDT float64
}

// ParseFile reads a PDB file and returns the alpha-carbon record of every
// residue that has one. Residues without a CA atom are skipped, matching how
// incomplete structures are handled downstream.
func ParseFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdb file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func Parse(r io.Reader) (*Summary, error) {
	var residues []Residue

	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		if !strings.HasPrefix(line, "ATOM") {
			continue
		}

		res, ok, err := parseAtomLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if ok {
			residues = append(residues, res)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pdb file: %w", err)
	}

	return &Summary{
		Residues:  residues,
		MeanPLDDT: meanPLDDT(residues),
	}, nil
}

// parseAtomLine extracts a CA record from one fixed-column ATOM line. Non-CA
// atoms and alternate locations other than the primary one return ok=false.
func parseAtomLine(line string) (Residue, bool, error) {
	// PDB ATOM records are fixed-width; anything shorter than the
	// temp-factor column is malformed.
	if len(line) < 66 {
		return Residue{}, false, fmt.Errorf("short ATOM record (%d columns)", len(line))
	}

	atomName := strings.TrimSpace(line[12:16])
	if atomName != "CA" {
		return Residue{}, false, nil
	}

	altLoc := line[16]
	if altLoc != ' ' && altLoc != 'A' {
		return Residue{}, false, nil
	}

	resName := strings.TrimSpace(line[17:20])
	chain := strings.TrimSpace(line[21:22])

	resNum, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
	if err != nil {
		return Residue{}, false, fmt.Errorf("invalid residue number: %w", err)
	}

	x, err := parseCoord(line[30:38], "x")
	if err != nil {
		return Residue{}, false, err
	}
	y, err := parseCoord(line[38:46], "y")
	if err != nil {
		return Residue{}, false, err
	}
	z, err := parseCoord(line[46:54], "z")
	if err != nil {
		return Residue{}, false, err
	}

	plddt, err := strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64)
	if err != nil {
		return Residue{}, false, fmt.Errorf("invalid temp factor: %w", err)
	}

	return Residue{
		Chain:   chain,
		ResName: resName,
		ResNum:  resNum,
		X:       x,
		Y:       y,
		Z:       z,
		PLDDT:   plddt,
	}, true, nil
}

func parseCoord(field, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s coordinate: %w", name, err)
	}
	return v, nil
}

func meanPLDDT(residues []Residue) float64 {
	if len(residues) == 0 {
		return 0
	}

	sum := 0.0
	for _, r := range residues {
		sum += r.PLDDT
	}
	return sum / float64(len(residues))
}
