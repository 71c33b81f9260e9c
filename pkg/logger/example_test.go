package logger_test

import (
	"errors"
	"os"

	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// Example_stageFields shows the fields stage code attaches to its entries
func Example_stageFields() {
	log := logger.NewWithWriter(os.Stderr, "info").WithField("module", "s7_ledger")

	log.WithFields(map[string]interface{}{
		"fic_mis_date": "2024-12-31",
		"run_key":      7,
	}).Info("Ledger stage completed")

	log.WithError(errors.New("lock wait timeout")).Warn("Retrying chunk write")
}
