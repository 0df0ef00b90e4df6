package intent

import "strings"

// Match returns the first record, in catalogue order, with an example contained in text.
// Comparison is case-insensitive. It never fails: unmatched text yields the fallback.
func (c *Catalog) Match(text string) Record {
	normalized := strings.ToLower(text)
	for _, rec := range c.records {
		for _, ex := range rec.Examples {
			if strings.Contains(normalized, ex) {
				return rec
			}
		}
	}
	return c.fallback
}
