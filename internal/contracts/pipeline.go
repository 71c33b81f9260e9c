package contracts

import (
	"context"
	"fmt"
	"time"
)

// Pipeline Stage 정의 (SSOT)
// 모든 로그, process_stage_status row, 메트릭 라벨에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   S1 (seed → enrich → classify → cooling) → S2 → S3 → S4 → S5 → S6 → S7 → S8
//   Staging                                   Transition  Interp  LGD  PIT  Cashflow  Ledger  ECL

// Stage represents a pipeline stage
type Stage string

const (
	// StageSeed S1: stage_determination 초기화
	// 책임: 기준일 loan_instruments → stage_determination 복사 (full refresh)
	// 위치: internal/s1_staging/seeder.go
	StageSeed Stage = "S1_STAGE_SEED"

	// StageEnrich S1: 참조 데이터 결합
	// 책임: product/segment/collateral/band/customer/rating 조인, EIR 산출
	// 위치: internal/s1_staging/enricher.go
	StageEnrich Stage = "S1_STAGE_ENRICH"

	// StageClassify S1: IFRS9 stage 판정
	// 책임: DPD/SICR 기준 stage 산정, prev_stage 연결
	// 위치: internal/s1_staging/classifier.go
	StageClassify Stage = "S1_STAGE_CLASSIFY"

	// StageCooling S1: cooling period 상태 머신
	// 위치: internal/s1_staging/cooling.go
	StageCooling Stage = "S1_COOLING"

	// StageTransition S2: 전이행렬 → 누적 PD → 연간 PD
	// 위치: internal/s2_transition/
	StageTransition Stage = "S2_TRANSITION"

	// StageInterpolation S3: 연간 PD → bucket 별 PD 곡선
	// 위치: internal/s3_interpolation/
	StageInterpolation Stage = "S3_INTERPOLATION"

	// StageLGD S4: LGD 산정 및 calibration
	// 위치: internal/s4_lgd/
	StageLGD Stage = "S4_LGD"

	// StagePIT S5: Vasicek / Frye-Jacobs PIT 조정
	// 위치: internal/s5_pit/
	StagePIT Stage = "S5_PIT"

	// StageCashflow S6: 예상 현금흐름 생성
	// 위치: internal/s6_cashflow/
	StageCashflow Stage = "S6_CASHFLOW"

	// StageLedger S7: financial_cashflow_cal 원장 계산 (run_key 발급)
	// 위치: internal/s7_ledger/
	StageLedger Stage = "S7_LEDGER"

	// StageECL S8: reporting line 집계 + 통화 환산
	// 위치: internal/s8_ecl/
	StageECL Stage = "S8_ECL"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// ShortName returns abbreviated stage name (e.g., "S1", "S7")
func (s Stage) ShortName() string {
	switch s {
	case StageSeed, StageEnrich, StageClassify, StageCooling:
		return "S1"
	case StageTransition:
		return "S2"
	case StageInterpolation:
		return "S3"
	case StageLGD:
		return "S4"
	case StagePIT:
		return "S5"
	case StageCashflow:
		return "S6"
	case StageLedger:
		return "S7"
	case StageECL:
		return "S8"
	default:
		return "UNKNOWN"
	}
}

// Description returns a human readable description of the stage
func (s Stage) Description() string {
	switch s {
	case StageSeed:
		return "Seed stage determination"
	case StageEnrich:
		return "Enrich with reference data"
	case StageClassify:
		return "Classify IFRS9 stage"
	case StageCooling:
		return "Apply cooling period"
	case StageTransition:
		return "Build transition matrices and PD term structures"
	case StageInterpolation:
		return "Interpolate PD curves"
	case StageLGD:
		return "Calculate LGD"
	case StagePIT:
		return "Point-in-time adjustment"
	case StageCashflow:
		return "Project expected cash flows"
	case StageLedger:
		return "Calculate cash flow ledger"
	case StageECL:
		return "Aggregate ECL reporting lines"
	default:
		return "unknown"
	}
}

// AllStages returns all pipeline stages in execution order
func AllStages() []Stage {
	return []Stage{
		StageSeed,
		StageEnrich,
		StageClassify,
		StageCooling,
		StageTransition,
		StageInterpolation,
		StageLGD,
		StagePIT,
		StageCashflow,
		StageLedger,
		StageECL,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}

// ParseStage accepts either the full constant ("S4_LGD") or, for stages
// with a unique short name, the short form ("S4").
func ParseStage(s string) (Stage, error) {
	if IsValidStage(s) {
		return Stage(s), nil
	}

	var match []Stage
	for _, stage := range AllStages() {
		if stage.ShortName() == s {
			match = append(match, stage)
		}
	}
	if len(match) == 1 {
		return match[0], nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Status is the lifecycle state of a process run or a single stage
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOngoing   Status = "ONGOING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// RunContext is what every stage receives from the orchestrator
type RunContext struct {
	ProcessID string
	Date      time.Time
	// RunKey is set once S7 has issued (or reused) a key; S8 reads it.
	RunKey *int64
	// FreshRunKey forces S7 to increment the global counter.
	FreshRunKey bool
}

// StageResult summarises one stage execution
type StageResult struct {
	Stage        Stage
	RowsAffected int
	RunKey       *int64
	Warnings     int
}

// StageRunner is implemented by every pipeline stage
type StageRunner interface {
	Stage() Stage
	Run(ctx context.Context, rc RunContext) (*StageResult, error)
}
