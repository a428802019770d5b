package config

import (
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// CirculationConfig carries the lending rules and the expiry sweep cadence.
type CirculationConfig struct {
	Policy        circulation.Policy
	SweepInterval time.Duration // 0 disables the sweeper
}

// LoadCirculationConfig builds the lending policy from LOAN_DAYS_*,
// BORROW_SYSTEM_CAP, FINE_PER_DAY, MAX_RENEWALS, RESERVATION_TTL and
// FINE_TIMEZONE.  Unset variables keep the defaults of
// circulation.DefaultPolicy; malformed money or zone values are fatal.
func LoadCirculationConfig() CirculationConfig {
	p := circulation.DefaultPolicy()
	const day = 24 * time.Hour

	p.LoanPeriods = map[model.Category]time.Duration{
		model.CategoryStudent:   time.Duration(envInt("LOAN_DAYS_STUDENT", 14)) * day,
		model.CategoryProfessor: time.Duration(envInt("LOAN_DAYS_PROFESSOR", 30)) * day,
		model.CategoryStaff:     time.Duration(envInt("LOAN_DAYS_STAFF", 21)) * day,
		model.CategoryGuest:     time.Duration(envInt("LOAN_DAYS_GUEST", 14)) * day,
	}
	p.SystemCap = envInt("BORROW_SYSTEM_CAP", p.SystemCap)
	p.MaxRenewals = envInt("MAX_RENEWALS", p.MaxRenewals)
	p.ReservationTTL = envDur("RESERVATION_TTL", p.ReservationTTL)

	if s := envStr("FINE_PER_DAY", ""); s != "" {
		fine, err := decimal.NewFromString(s)
		if err != nil || fine.IsNegative() {
			log.Fatalf("invalid FINE_PER_DAY: %q", s)
		}
		p.UnitFine = fine
	}
	if tz := envStr("FINE_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("invalid FINE_TIMEZONE %q: %v", tz, err)
		}
		p.Location = loc
	}
	if p.SystemCap < 1 {
		log.Fatalf("BORROW_SYSTEM_CAP must be positive, got %d", p.SystemCap)
	}

	return CirculationConfig{
		Policy:        p,
		SweepInterval: envDur("RESERVATION_SWEEP_INTERVAL", time.Minute),
	}
}
