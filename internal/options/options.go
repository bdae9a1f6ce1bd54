// Package options builds the hierarchical option catalog from the flat
// actionItemOptions table.
package options

import (
	"strings"

	"actionitems/api/internal/record"
)

// Node is one category in the hierarchy.
type Node struct {
	DisplayName   string           `json:"displayName"`
	Subcategories map[string]*Node `json:"subcategories"`
}

// Catalog is the built hierarchy plus per-path row metadata. Data is keyed
// by the slash-joined category path; every prefix of a row's path carries
// the row's metadata, with deeper rows overwriting shallower prefixes.
type Catalog struct {
	Categories map[string]*Node         `json:"categories"`
	Data       map[string]record.Record `json:"optionsData"`
}

var levelColumns = []string{
	"categoryLevel1", "categoryLevel2", "categoryLevel3", "categoryLevel4", "categoryLevel5",
}

// Build assembles the catalog from raw table content. Rows without a
// level-1 category are skipped, as are rows explicitly marked inactive;
// rows with a blank active cell are kept.
func Build(headers []string, rows [][]any) Catalog {
	cat := Catalog{
		Categories: make(map[string]*Node),
		Data:       make(map[string]record.Record),
	}
	activeCol := -1
	for i, h := range headers {
		if h == "active" {
			activeCol = i
		}
	}
	for _, row := range rows {
		if activeCol >= 0 && activeCol < len(row) && explicitlyInactive(row[activeCol]) {
			continue
		}
		rec := record.OptionSchema.Decode(headers, row)

		// Levels stop at the first blank cell; a deeper value after a
		// gap does not belong to this row's path.
		var levels []string
		for _, col := range levelColumns {
			v := strings.TrimSpace(rec.String(col))
			if v == "" {
				break
			}
			levels = append(levels, v)
		}
		if len(levels) == 0 {
			continue
		}

		current := cat.Categories
		path := ""
		for _, name := range levels {
			if path == "" {
				path = name
			} else {
				path = path + "/" + name
			}
			node, ok := current[name]
			if !ok {
				node = &Node{DisplayName: name, Subcategories: make(map[string]*Node)}
				current[name] = node
			}
			// Each prefix carries this row's metadata; later rows
			// for the same prefix win.
			cat.Data[path] = rec
			current = node.Subcategories
		}
	}
	return cat
}

func explicitlyInactive(cell any) bool {
	switch v := cell.(type) {
	case bool:
		return !v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "FALSE")
	default:
		return false
	}
}

// Lookup returns the metadata stored for a slash-joined category path.
func (c Catalog) Lookup(path string) (record.Record, bool) {
	rec, ok := c.Data[path]
	return rec, ok
}
