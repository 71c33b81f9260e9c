package contracts

import "errors"

// Sentinel errors shared by every stage.
// Stage boundaries wrap these with fmt.Errorf("...: %w") so callers can use errors.Is.
var (
	// ErrConfigMissing: a mandatory configuration value (ECL method, weights, ...) is absent
	ErrConfigMissing = errors.New("configuration missing")

	// ErrNoInstruments: the instrument source has no rows for the reporting date
	ErrNoInstruments = errors.New("no instruments for reporting date")

	// ErrNoHistory: the historical window holds no reporting dates
	ErrNoHistory = errors.New("no historical reporting dates")

	// ErrRunKeyUnavailable: the global run key counter could not be read or incremented
	ErrRunKeyUnavailable = errors.New("run key unavailable")

	// ErrReferenceMissing: a reference lookup (rate, band, term structure) found nothing
	ErrReferenceMissing = errors.New("reference data missing")

	// ErrCancelled: the process was cancelled between stages
	ErrCancelled = errors.New("process cancelled")
)
