package usecases

import "time"

// Reconciliation defaults
const DefaultCoalesceWindow = 60 * time.Second
const DefaultSweepConcurrency = 10
const DefaultLedgerCallTimeout = 10 * time.Second
const DefaultPlaceholderExpiry = 365 * 24 * time.Hour
const DefaultEventMaxAttempts = 5

// maxWriteAttempts bounds re-fetch-and-retry on optimistic version conflicts
const maxWriteAttempts = 3

// Placeholder used for rows synthesized purely from a mint event
const UnknownDrugName = "Unknown"

// Listing
const DefaultPageLimit = 20
const MaxPageLimit = 100
const DefaultEventListLimit = 50
