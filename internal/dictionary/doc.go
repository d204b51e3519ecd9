// Package dictionary loads a JSON word list into an immutable in-memory snapshot
// and answers concurrent lookups against it. Reloads build a complete new snapshot
// before swapping it in, so readers never see a partially updated table.
package dictionary
