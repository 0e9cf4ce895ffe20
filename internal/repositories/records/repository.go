// Package records reads business records (leads, sales, settlements) as
// flat tables for the master spreadsheet exports. The rows are owned by the
// business layer; this package only reads the export_* views.
package records

import (
	"context"
	"fmt"
	"sort"
)

// Kind names one exportable record type.
type Kind string

const (
	Leads       Kind = "leads"
	Sales       Kind = "sales"
	Settlements Kind = "settlements"
)

var views = map[Kind]string{
	Leads:       "export_leads",
	Sales:       "export_sales",
	Settlements: "export_settlements",
}

// Kinds lists every exportable kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(views))
	for k := range views {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind validates a kind name.
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if _, ok := views[k]; !ok {
		return "", fmt.Errorf("unknown record kind %q", name)
	}
	return k, nil
}

// Table is a header plus rows of already formatted cells.
type Table struct {
	Header []string
	Rows   [][]string
}

type Repository interface {
	Snapshot(ctx context.Context, kind Kind) (*Table, error)
}
