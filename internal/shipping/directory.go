package shipping

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed data/pincodes.csv
var seedDirectoryCSV []byte

const branchOfficeType = "B.O."

// PincodeRecord is the destination metadata resolved for a pincode.
type PincodeRecord struct {
	Pincode    string
	OfficeName string
	OfficeType string
	District   string
	State      string
}

// BranchOffice reports whether the office is a branch office, which adds a day to delivery.
func (r PincodeRecord) BranchOffice() bool {
	return r.OfficeType == branchOfficeType
}

// Directory resolves pincodes to district/state records.
type Directory interface {
	Lookup(pincode string) (PincodeRecord, bool)
}

// StaticDirectory is an immutable in-memory pincode table.
type StaticDirectory struct {
	records map[string]PincodeRecord
}

var _ Directory = (*StaticDirectory)(nil)

// Lookup returns the record for an exact pincode.
func (d *StaticDirectory) Lookup(pincode string) (PincodeRecord, bool) {
	if d == nil {
		return PincodeRecord{}, false
	}
	record, ok := d.records[strings.TrimSpace(pincode)]
	return record, ok
}

// Len returns the number of distinct pincodes.
func (d *StaticDirectory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// SeedDirectory parses the embedded directory shipped with the binary.
func SeedDirectory() (*StaticDirectory, error) {
	return LoadDirectoryCSV(bytes.NewReader(seedDirectoryCSV))
}

var directoryColumns = []string{"pincode", "officename", "officetype", "district", "statename"}

// LoadDirectoryCSV parses an India Post style pincode export.
// Duplicate pincodes prefer head or sub offices over branch offices.
func LoadDirectoryCSV(r io.Reader) (*StaticDirectory, error) {
	if r == nil {
		return nil, errors.New("shipping: directory reader is required")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("shipping: read directory header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	upper := cases.Upper(language.Und)
	records := make(map[string]PincodeRecord)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("shipping: read directory line %d: %w", line, err)
		}
		field := func(name string) string {
			i := index[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		pincode := field("pincode")
		if !validPincode(pincode) {
			continue
		}
		record := PincodeRecord{
			Pincode:    pincode,
			OfficeName: field("officename"),
			OfficeType: normalizeOfficeType(field("officetype")),
			District:   collapseSpaces(upper.String(field("district"))),
			State:      collapseSpaces(upper.String(field("statename"))),
		}
		if record.District == "" || record.State == "" {
			continue
		}
		if existing, ok := records[pincode]; ok && !existing.BranchOffice() {
			continue
		}
		records[pincode] = record
	}

	if len(records) == 0 {
		return nil, errors.New("shipping: directory contains no usable rows")
	}
	return &StaticDirectory{records: records}, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, column := range directoryColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("shipping: directory missing column %q", column)
		}
	}
	return index, nil
}

func normalizeOfficeType(raw string) string {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), ".", ""))
	switch compact {
	case "BO":
		return branchOfficeType
	case "SO":
		return "S.O."
	case "HO":
		return "H.O."
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
