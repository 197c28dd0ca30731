package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator issues invoice numbers of the form
// PREFIX-YYYYMMDD-ORDER8-SUFFIX where SUFFIX is drawn from a time-ordered
// UUIDv7, so numbers sort by issue time within a day.
type NumberGenerator struct {
	prefix string
	newID  func() (uuid.UUID, error)
}

func NewNumberGenerator(prefix string) *NumberGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "INV"
	}
	return &NumberGenerator{prefix: prefix, newID: uuid.NewV7}
}

func (g *NumberGenerator) Next(orderID uuid.UUID, at time.Time) (string, error) {
	id, err := g.newID()
	if err != nil {
		return "", fmt.Errorf("generate invoice suffix: %w", err)
	}
	orderHex := strings.ReplaceAll(orderID.String(), "-", "")
	suffix := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("%s-%s-%s-%s",
		g.prefix,
		at.UTC().Format("20060102"),
		strings.ToUpper(orderHex[:8]),
		strings.ToUpper(suffix[:20]),
	), nil
}
