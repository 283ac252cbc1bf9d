package exit

// Config holds the per-strategy exit thresholds. Keys match the exit settings section.
type Config struct {
	ProfitThresholdCondor float64 `yaml:"profit_threshold_condor" json:"profit_threshold_condor" default:"0.60" validate:"gt=0,lte=1"`
	ProfitThresholdFly    float64 `yaml:"profit_threshold_fly" json:"profit_threshold_fly" default:"0.40" validate:"gt=0,lte=1"`
	ProfitThresholdCredit float64 `yaml:"profit_threshold_credit" json:"profit_threshold_credit" default:"0.60" validate:"gt=0,lte=1"`
	ProfitThresholdConvex float64 `yaml:"profit_threshold_convex" json:"profit_threshold_convex" default:"0.50" validate:"gt=0"`

	MaxHoldCondorMin int `yaml:"max_hold_condor_min" json:"max_hold_condor_min" default:"90" validate:"gt=0"`
	MaxHoldFlyMin    int `yaml:"max_hold_fly_min" json:"max_hold_fly_min" default:"60" validate:"gt=0"`
	MaxHoldCreditMin int `yaml:"max_hold_credit_min" json:"max_hold_credit_min" default:"90" validate:"gt=0"`
	MaxHoldConvexMin int `yaml:"max_hold_convex_min" json:"max_hold_convex_min" default:"60" validate:"gt=0"`

	CondorDistanceMult    float64 `yaml:"condor_distance_mult" json:"condor_distance_mult" default:"0.80" validate:"gte=0"`
	CreditShortBufferMult float64 `yaml:"credit_short_buffer_mult" json:"credit_short_buffer_mult" default:"0.20" validate:"gte=0"`
	CondorRangeExitMult   float64 `yaml:"condor_range_exit_mult" json:"condor_range_exit_mult" default:"0.60" validate:"gt=0"`
	ATRSpikePoints        float64 `yaml:"atr_spike_points" json:"atr_spike_points" default:"8.0" validate:"gt=0"`

	EnableTenCentBidExit bool `yaml:"enable_ten_cent_bid_exit" json:"enable_ten_cent_bid_exit" default:"true"`
	EnablePegExit        bool `yaml:"enable_peg_exit" json:"enable_peg_exit" default:"true"`
}

func DefaultConfig() Config {
	return Config{
		ProfitThresholdCondor: 0.60,
		ProfitThresholdFly:    0.40,
		ProfitThresholdCredit: 0.60,
		ProfitThresholdConvex: 0.50,
		MaxHoldCondorMin:      90,
		MaxHoldFlyMin:         60,
		MaxHoldCreditMin:      90,
		MaxHoldConvexMin:      60,
		CondorDistanceMult:    0.80,
		CreditShortBufferMult: 0.20,
		CondorRangeExitMult:   0.60,
		ATRSpikePoints:        8.0,
		EnableTenCentBidExit:  true,
		EnablePegExit:         true,
	}
}

const (
	tenCentDebit     = 0.10
	pegOTMFraction   = 0.003
	rangeExitMult    = 0.60
	finalWindowHour  = 15
	finalWindowMin   = 30
	pegWindowHour    = 15
	condorCutoffHour = 14
	condorCutoffMin  = 30
	flyCutoffHour    = 13
	flyCutoffMin     = 45
	creditCutoffHour = 14
	convexCutoffHour = 15
)
