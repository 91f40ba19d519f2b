package ledger

import "github.com/shopspring/decimal"

// Recorder receives operational measurements from the service.
// observability.LedgerMetrics is the Prometheus implementation.
type Recorder interface {
	BalanceCreated(kind Kind)
	TransactionLogged(kind Kind, amount decimal.Decimal)
	TransactionCorrected()
	OperationFailed(op string, kind ErrorKind)
	ConflictRetried(op string)
}

type nopRecorder struct{}

func (nopRecorder) BalanceCreated(Kind)                     {}
func (nopRecorder) TransactionLogged(Kind, decimal.Decimal) {}
func (nopRecorder) TransactionCorrected()                   {}
func (nopRecorder) OperationFailed(string, ErrorKind)       {}
func (nopRecorder) ConflictRetried(string)                  {}
