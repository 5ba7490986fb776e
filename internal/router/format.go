package router

import (
	"fmt"

	"github.com/forwardfactor/scanner/internal/domain"
)

// formatSignal renders a signal as the Markdown body the messenger sends.
func formatSignal(sig domain.Signal) string {
	return fmt.Sprintf(
		"*%s* Forward Factor %.3f\nFront %s (DTE %d, IV %.1f%%) / Back %s (DTE %d, IV %.1f%%)\nForward vol %.1f%%  Quality %.2f",
		sig.Ticker, sig.FFValue,
		sig.FrontExpiry.Format("2006-01-02"), sig.FrontDTE, sig.FrontIV*100,
		sig.BackExpiry.Format("2006-01-02"), sig.BackDTE, sig.BackIV*100,
		sig.SigmaFwd*100, sig.QualityScore,
	)
}
