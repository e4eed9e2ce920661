package model

import "tenderscan/scanner-service/internal/textnorm"

// Fingerprint is the identity key used for deduplication: two records with
// the same folded title, organization and portal are the same tender no
// matter which strategy or page surfaced them.
func Fingerprint(r NormalizedRecord) string {
	return textnorm.Fold(r.Title) + "|" + textnorm.Fold(r.Organization) + "|" + textnorm.Fold(r.Portal)
}
