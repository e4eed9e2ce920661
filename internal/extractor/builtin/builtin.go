// Package builtin lists the extractor families shipped with the scanner.
package builtin

import (
	"sort"

	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/extractor/bidsandtenders"
	"tenderscan/scanner-service/internal/extractor/canadabuys"
	"tenderscan/scanner-service/internal/extractor/jsonapi"
)

// Factories maps each catalog kind to its constructor.
func Factories() map[string]extractor.Factory {
	return map[string]extractor.Factory{
		bidsandtenders.Kind: bidsandtenders.New,
		canadabuys.Kind:     canadabuys.New,
		jsonapi.Kind:        jsonapi.New,
	}
}

// Kinds returns the known kinds in sorted order.
func Kinds() []string {
	f := Factories()
	kinds := make([]string, 0, len(f))
	for k := range f {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
