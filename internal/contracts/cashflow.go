package contracts

import "time"

// ExpectedCashflow is one projected bucket of a loan (ecl.expected_cashflows)
type ExpectedCashflow struct {
	FicMisDate    time.Time
	AccountNumber string
	Bucket        int
	CashflowDate  time.Time
	Principal     float64
	Interest      float64
	ManagementFee float64
	Amount        float64
	Balance       float64
	CurrencyCode  string
}

// ScheduledPayment is one explicit payment schedule entry
type ScheduledPayment struct {
	AccountNumber   string
	PaymentDate     time.Time
	PrincipalAmount float64
	InterestAmount  float64
}

// LedgerRow is the central fact row of ecl.financial_cashflow_cal
// ⭐ SSOT: (fic_mis_date, run_key, account, bucket) 단위 원장
type LedgerRow struct {
	FicMisDate     time.Time
	RunKey         int64
	AccountNumber  string
	Bucket         int
	CashflowDate   time.Time
	CashFlowAmount float64
	Principal      float64
	Interest       float64
	CurrencyCode   string
	AmortTermUnit  TermUnit

	DiscountRate           *float64
	EffectiveInterestRate  *float64
	DiscountFactor         *float64
	LGD                    *float64
	CumulativeLossRate     *float64
	CumulativeImpairedProb *float64
	Cumulative12mPD        *float64
	MarginalImpairedProb   *float64
	Marginal12mPD          *float64
	EAD                    *float64
	ExpectedCFRate         *float64
	ExpectedCF             *float64
	ExpectedCF12m          *float64
	CashShortfall          *float64
	CashShortfallPV        *float64
	CashShortfall12m       *float64
	CashShortfall12mPV     *float64
	ForwardEL              *float64
	ForwardELPV            *float64
	ForwardEL12m           *float64
	ForwardEL12mPV         *float64
}

// ReportingLine is the account-level ECL result (ecl.reporting_lines)
type ReportingLine struct {
	FicMisDate        time.Time
	RunKey            int64
	AccountNumber     string
	CurrencyCode      string
	Stage             int
	EAD               *float64
	PD12m             *float64
	PDLifetime        *float64
	LGD               *float64
	ECL12m            *float64
	ECLLifetime       *float64
	FinalECL          *float64
	ReportingCurrency string
	ExchangeRate      *float64
	EADRcy            *float64
	ECL12mRcy         *float64
	ECLLifetimeRcy    *float64
	FinalECLRcy       *float64
}
