package receiver

import (
	"github.com/elliotchance/orderedmap"
)

// Row identifies one batch of probes into a bundle
type Row struct {
	Bundle int
	Row    int
}

// Coordinate is a bin of a query row. Bin is local to the bundle.
type Coordinate struct {
	Bundle int
	Row    int
	Bin    int
}

// IndexTranslationTable maps the coordinates probed by a query back to the
// indices of the query items. An item is listed under every one of its
// candidate bins. It is read-only once the query is built.
type IndexTranslationTable struct {
	itemCount int
	// Coordinate -> []int, in probe order
	coords *orderedmap.OrderedMap
	// Row -> []Coordinate, in row creation order
	rows *orderedmap.OrderedMap
}

func newIndexTranslationTable(itemCount int) *IndexTranslationTable {
	return &IndexTranslationTable{
		itemCount: itemCount,
		coords:    orderedmap.NewOrderedMap(),
		rows:      orderedmap.NewOrderedMap(),
	}
}

func (t *IndexTranslationTable) add(c Coordinate, indices []int) {
	if v, ok := t.coords.Get(c); ok {
		indices = append(v.([]int), indices...)
	} else {
		row := Row{Bundle: c.Bundle, Row: c.Row}
		var coords []Coordinate
		if v, ok := t.rows.Get(row); ok {
			coords = v.([]Coordinate)
		}
		t.rows.Set(row, append(coords, c))
	}
	t.coords.Set(c, indices)
}

// ItemCount is the number of query items, duplicates included
func (t *IndexTranslationTable) ItemCount() int {
	return t.itemCount
}

// Len is the number of probed coordinates
func (t *IndexTranslationTable) Len() int {
	return t.coords.Len()
}

// Lookup returns the query item indices probing c
func (t *IndexTranslationTable) Lookup(c Coordinate) []int {
	v, ok := t.coords.Get(c)
	if !ok {
		return nil
	}
	return v.([]int)
}

// RowCount is the number of query rows, hence of expected result parts
func (t *IndexTranslationTable) RowCount() int {
	return t.rows.Len()
}

// Rows lists the query rows in creation order
func (t *IndexTranslationTable) Rows() []Row {
	rows := make([]Row, 0, t.rows.Len())
	for e := t.rows.Front(); e != nil; e = e.Next() {
		rows = append(rows, e.Key.(Row))
	}
	return rows
}

// Coordinates lists the probed coordinates of a row
func (t *IndexTranslationTable) Coordinates(r Row) []Coordinate {
	v, ok := t.rows.Get(r)
	if !ok {
		return nil
	}
	return v.([]Coordinate)
}
