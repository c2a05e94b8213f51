package stopidentity

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
)

type aliasRecord struct {
	Alias  string `csv:"alias"`
	StopID string `csv:"stop_id"`
}

// AliasTable maps user facing names and legacy ids onto stop ids. Lookups
// try the exact alias first and then its folded form.
type AliasTable struct {
	exact      map[string]string
	normalized map[string]string
}

func NewAliasTable(aliases map[string]string) *AliasTable {
	table := &AliasTable{
		exact:      map[string]string{},
		normalized: map[string]string{},
	}
	table.Add(aliases)
	return table
}

// LoadAliasesCSV reads an alias,stop_id file.
func LoadAliasesCSV(reader io.Reader) (*AliasTable, error) {
	var records []*aliasRecord
	err := gocsv.UnmarshalCSV(lenientReader(reader), &records)
	if err != nil {
		return nil, fmt.Errorf("parse alias csv: %w", err)
	}

	aliases := make(map[string]string, len(records))
	for _, record := range records {
		aliases[record.Alias] = record.StopID
	}
	return NewAliasTable(aliases), nil
}

func lenientReader(in io.Reader) gocsv.CSVReader {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r
}

// Add merges aliases into the table. Existing aliases are kept.
func (t *AliasTable) Add(aliases map[string]string) {
	for alias, stopID := range aliases {
		alias = strings.TrimSpace(alias)
		stopID = strings.TrimSpace(stopID)
		if alias == "" || stopID == "" {
			continue
		}

		if _, exists := t.exact[alias]; !exists {
			t.exact[alias] = stopID
		}
		if key := util.FoldText(alias); key != "" {
			if _, exists := t.normalized[key]; !exists {
				t.normalized[key] = stopID
			}
		}
	}
}

func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.exact)
}

// Lookup returns the stop id bound to candidate and the key that matched.
func (t *AliasTable) Lookup(candidate string) (string, string, bool) {
	if t == nil {
		return "", "", false
	}

	candidate = strings.TrimSpace(candidate)
	if stopID, ok := t.exact[candidate]; ok {
		return stopID, candidate, true
	}

	key := util.FoldText(candidate)
	if stopID, ok := t.normalized[key]; ok && key != "" {
		return stopID, key, true
	}

	return "", key, false
}
