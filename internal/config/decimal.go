package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal reads tick and step sizes as exact decimals. Quoted and bare
// scalars are both accepted; an empty scalar is zero, which disables rounding.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: decimal must be a scalar", node.Line)
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" || node.Tag == "!!null" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q", node.Line, node.Value)
	}
	d.Decimal = v
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
