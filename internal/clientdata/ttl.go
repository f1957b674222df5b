package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Stable data (changes only on errata or reprints)
	TTLCardFacts = 7 * 24 * time.Hour // 7 days - card names, types, identities

	// Daily data
	TTLLegality = 24 * time.Hour // 1 day - format legality shifts with bans

	// Intraday data
	TTLSetReleases  = 6 * time.Hour // 6 hours - release calendar and spoilers
	TTLMetaSnapshot = 2 * time.Hour // 2 hours - tournament meta shares

	// Short-lived data (changes frequently)
	TTLCardPrice = 15 * time.Minute // 15 minutes - market prices
)
