package refdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/ifrs9-ecl/internal/contracts"
)

// Repository implements contracts.ReferenceData over the ecl schema
// ⭐ SSOT: 참조 데이터 조회는 여기서만 (read-only)
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ contracts.ReferenceData = (*Repository)(nil)

// Products returns product code → product
func (r *Repository) Products(ctx context.Context) (map[string]contracts.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT product_code, product_segment, product_type, COALESCE(product_desc, '')
		FROM ecl.products
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	result := make(map[string]contracts.Product)
	for rows.Next() {
		var p contracts.Product
		if err := rows.Scan(&p.Code, &p.Segment, &p.Type, &p.Desc); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.Code] = p
	}
	return result, rows.Err()
}

// Segments returns every segment
func (r *Repository) Segments(ctx context.Context) ([]contracts.Segment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT segment_key, product_segment, product_type, COALESCE(segment_name, '')
		FROM ecl.segments
		ORDER BY segment_key
	`)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var result []contracts.Segment
	for rows.Next() {
		var s contracts.Segment
		if err := rows.Scan(&s.Key, &s.ProductSegment, &s.ProductType, &s.Name); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Customers returns customer ref → customer
func (r *Repository) Customers(ctx context.Context) (map[string]contracts.Customer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT customer_ref, COALESCE(partner_name, ''), COALESCE(partner_type, '')
		FROM ecl.customers
	`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	result := make(map[string]contracts.Customer)
	for rows.Next() {
		var c contracts.Customer
		if err := rows.Scan(&c.Ref, &c.PartnerName, &c.PartnerType); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		result[c.Ref] = c
	}
	return result, rows.Err()
}

// CollateralTotals returns customer ref → total collateral on the date
func (r *Repository) CollateralTotals(ctx context.Context, date time.Time) (map[string]float64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT customer_ref, SUM(collateral_amount)
		FROM ecl.collateral
		WHERE fic_mis_date = $1
		GROUP BY customer_ref
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query collateral: %w", err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var ref string
		var total float64
		if err := rows.Scan(&ref, &total); err != nil {
			return nil, fmt.Errorf("scan collateral: %w", err)
		}
		result[ref] = total
	}
	return result, rows.Err()
}

// DelinquencyBands returns bands ordered by term unit and ascending lower bound
func (r *Repository) DelinquencyBands(ctx context.Context) ([]contracts.DelinquencyBand, error) {
	rows, err := r.db.Query(ctx, `
		SELECT band_code, lower_days, upper_days, amort_term_unit
		FROM ecl.delinquency_bands
		ORDER BY amort_term_unit, lower_days
	`)
	if err != nil {
		return nil, fmt.Errorf("query delinquency bands: %w", err)
	}
	defer rows.Close()

	var result []contracts.DelinquencyBand
	for rows.Next() {
		var b contracts.DelinquencyBand
		var unit string
		if err := rows.Scan(&b.Code, &b.LowerDays, &b.UpperDays, &unit); err != nil {
			return nil, fmt.Errorf("scan delinquency band: %w", err)
		}
		b.AmortTermUnit = contracts.TermUnit(unit)
		result = append(result, b)
	}
	return result, rows.Err()
}

// RatingGrades returns ratings ordered best first
func (r *Repository) RatingGrades(ctx context.Context) ([]contracts.RatingGrade, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rating_code, rank, is_default
		FROM ecl.rating_grades
		ORDER BY rank
	`)
	if err != nil {
		return nil, fmt.Errorf("query rating grades: %w", err)
	}
	defer rows.Close()

	var result []contracts.RatingGrade
	for rows.Next() {
		var g contracts.RatingGrade
		if err := rows.Scan(&g.Code, &g.Rank, &g.IsDefault); err != nil {
			return nil, fmt.Errorf("scan rating grade: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// CustomerRatings returns customer ref → rating code on the date
func (r *Repository) CustomerRatings(ctx context.Context, date time.Time) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT customer_ref, rating_code
		FROM ecl.customer_ratings
		WHERE fic_mis_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query customer ratings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var ref, code string
		if err := rows.Scan(&ref, &code); err != nil {
			return nil, fmt.Errorf("scan customer rating: %w", err)
		}
		result[ref] = code
	}
	return result, rows.Err()
}

// CoolingPeriods returns term unit → cooling days
func (r *Repository) CoolingPeriods(ctx context.Context) (map[contracts.TermUnit]int, error) {
	rows, err := r.db.Query(ctx, `SELECT amort_term_unit, cooling_days FROM ecl.cooling_period_definitions`)
	if err != nil {
		return nil, fmt.Errorf("query cooling periods: %w", err)
	}
	defer rows.Close()

	result := make(map[contracts.TermUnit]int)
	for rows.Next() {
		var unit string
		var days int
		if err := rows.Scan(&unit, &days); err != nil {
			return nil, fmt.Errorf("scan cooling period: %w", err)
		}
		result[contracts.TermUnit(unit)] = days
	}
	return result, rows.Err()
}

// PDTermStructures returns term structure id → header
func (r *Repository) PDTermStructures(ctx context.Context) (map[int]contracts.PDTermStructure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT pd_term_structure_id, name, COALESCE(description, ''), basis_kind, frequency_unit
		FROM ecl.pd_term_structures
	`)
	if err != nil {
		return nil, fmt.Errorf("query pd term structures: %w", err)
	}
	defer rows.Close()

	result := make(map[int]contracts.PDTermStructure)
	for rows.Next() {
		var ts contracts.PDTermStructure
		var kind, unit string
		if err := rows.Scan(&ts.ID, &ts.Name, &ts.Description, &kind, &unit); err != nil {
			return nil, fmt.Errorf("scan pd term structure: %w", err)
		}
		ts.BasisKind = contracts.BasisKind(kind)
		ts.FrequencyUnit = contracts.TermUnit(unit)
		result[ts.ID] = ts
	}
	return result, rows.Err()
}

// CombinedSegments returns group key → member segments
func (r *Repository) CombinedSegments(ctx context.Context) (map[string][]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT group_key, segment_key
		FROM ecl.combined_segment_map
		ORDER BY group_key, segment_key
	`)
	if err != nil {
		return nil, fmt.Errorf("query combined segments: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]int)
	for rows.Next() {
		var group string
		var key int
		if err := rows.Scan(&group, &key); err != nil {
			return nil, fmt.Errorf("scan combined segment: %w", err)
		}
		result[group] = append(result[group], key)
	}
	return result, rows.Err()
}

// SingletonGroupKey is the group key of a segment with no combined mapping
func SingletonGroupKey(segmentKey int) string {
	return strconv.Itoa(segmentKey)
}
