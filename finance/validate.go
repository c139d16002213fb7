package finance

import (
	"github.com/shopspring/decimal"

	"github.com/unkn0wn-root/optcache/remote"
)

// problems collects field errors the way the backend reports them, so a
// locally rejected payload looks the same to callers as a server rejection.
type problems map[string][]string

func (p problems) add(field, msg string) { p[field] = append(p[field], msg) }

func (p problems) required(field, v string) {
	if v == "" {
		p.add(field, "is required")
	}
}

func (p problems) positive(field string, d decimal.Decimal) {
	if !d.IsPositive() {
		p.add(field, "must be greater than zero")
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &remote.ValidationError{Fields: p}
}
