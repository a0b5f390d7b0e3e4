// Package features derives the model input vector for a UPI transaction.
//
// Derivation is a pure function: the same transaction always produces a
// bit-identical vector. The only time-dependent feature (is_weekend) is
// computed from a caller-supplied reference time, never from the clock.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Thresholds used by the derived risk flags.
const (
	HighAmountMultiplier = 5.0  // amount > 5x weekly average
	MicroAmountLimit     = 10.0 // currency units
	NewReceiverAgeDays   = 7
	HighRiskReportCount  = 3
	LocationRiskKm       = 50.0
	QuickPaySeconds      = 5.0
	SlowOTPSeconds       = 30.0
	HighFrequencyCount   = 10
	NightStartHour       = 22
	NightEndHour         = 6
)

// ErrInvalidInput marks a malformed or incomplete transaction.
// Callers should test with errors.Is.
var ErrInvalidInput = errors.New("invalid transaction input")

// Transaction is a raw payment record as received from the caller.
// Pointer fields are optional: nil means the caller had no data, which
// is distinct from an explicit zero (a receiver aged 0 days is brand
// new; an unknown age fires no rule).
type Transaction struct {
	TransactionID string `json:"transaction_id"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`

	Amount          float64 `json:"amount"`
	TransactionTime int     `json:"transaction_time"` // hour of day, 0-23

	FrequencyLast24h  int     `json:"transaction_frequency_last_24h"`
	AvgAmountLastWeek float64 `json:"avg_amount_last_week"` // 0 = no history

	DeviceID  string `json:"device_id"`
	OSVersion string `json:"os_version,omitempty"`
	IPAddress string `json:"ip_address"`

	GeoDistanceKm float64 `json:"geo_distance_from_last_txn"`

	ReceiverAgeDays         *int `json:"receiver_age_days,omitempty"`
	ReceiverFraudReports    int  `json:"receiver_fraud_reports"`
	UniqueSendersToReceiver int  `json:"unique_senders_to_receiver"`

	TimeToPaySeconds *float64 `json:"time_between_upi_open_and_pay,omitempty"`
	OTPDelaySeconds  *float64 `json:"otp_entry_delay,omitempty"`

	// Caller-supplied hints. When nil the deriver computes them.
	UnusualHour     *int     `json:"is_unusual_hour,omitempty"`
	AmountDeviation *float64 `json:"amount_deviation_from_avg,omitempty"`

	IsVIP     bool              `json:"is_vip,omitempty"`
	RiskFlags map[string]string `json:"risk_flags,omitempty"`
}

// Vector is the fixed-order feature vector consumed by a Scorer.
// Flags are 0/1 floats so the whole vector is numeric.
type Vector struct {
	Amount            float64 `json:"amount"`
	TransactionTime   float64 `json:"transaction_time"`
	FrequencyLast24h  float64 `json:"transaction_frequency_last_24h"`
	AvgAmountLastWeek float64 `json:"avg_amount_last_week"`
	GeoDistanceKm     float64 `json:"geo_distance_from_last_txn"`
	ReceiverAgeDays   float64 `json:"receiver_age_days"`
	FraudReports      float64 `json:"receiver_fraud_reports"`
	UniqueSenders     float64 `json:"unique_senders_to_receiver"`
	TimeToPay         float64 `json:"time_between_upi_open_and_pay"`
	OTPDelay          float64 `json:"otp_entry_delay"`
	UnusualHour       float64 `json:"is_unusual_hour"`
	AmountDeviation   float64 `json:"amount_deviation_from_avg"`
	AmountLog         float64 `json:"amount_log"`
	AmountZScore      float64 `json:"amount_zscore"`
	HighAmountFlag    float64 `json:"high_amount_flag"`
	MicroAmountFlag   float64 `json:"micro_amount_flag"`
	NewReceiverFlag   float64 `json:"new_receiver_flag"`
	HighRiskReceiver  float64 `json:"high_risk_receiver"`
	LocationRisk      float64 `json:"location_risk"`
	QuickTransaction  float64 `json:"quick_transaction"`
	SlowOTPEntry      float64 `json:"slow_otp_entry"`
	HighFrequencyFlag float64 `json:"high_frequency_flag"`
	NightTransaction  float64 `json:"night_transaction"`
	IsWeekend         float64 `json:"is_weekend"`
}

// featureNames lists vector fields in wire order. Must match Values.
var featureNames = []string{
	"amount", "transaction_time", "transaction_frequency_last_24h",
	"avg_amount_last_week", "geo_distance_from_last_txn",
	"receiver_age_days", "receiver_fraud_reports",
	"unique_senders_to_receiver", "time_between_upi_open_and_pay",
	"otp_entry_delay", "is_unusual_hour", "amount_deviation_from_avg",
	"amount_log", "amount_zscore", "high_amount_flag", "micro_amount_flag",
	"new_receiver_flag", "high_risk_receiver", "location_risk",
	"quick_transaction", "slow_otp_entry", "high_frequency_flag",
	"night_transaction", "is_weekend",
}

// Names returns the feature names in vector order.
func Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Values returns the vector as an ordered slice, aligned with Names.
func (v *Vector) Values() []float64 {
	return []float64{
		v.Amount, v.TransactionTime, v.FrequencyLast24h,
		v.AvgAmountLastWeek, v.GeoDistanceKm,
		v.ReceiverAgeDays, v.FraudReports,
		v.UniqueSenders, v.TimeToPay,
		v.OTPDelay, v.UnusualHour, v.AmountDeviation,
		v.AmountLog, v.AmountZScore, v.HighAmountFlag, v.MicroAmountFlag,
		v.NewReceiverFlag, v.HighRiskReceiver, v.LocationRisk,
		v.QuickTransaction, v.SlowOTPEntry, v.HighFrequencyFlag,
		v.NightTransaction, v.IsWeekend,
	}
}

// Validate checks required fields and value ranges. It never defaults a
// required field: a malformed transaction fails before any derivation.
func (t *Transaction) Validate() error {
	switch {
	case t.SenderID == "":
		return fmt.Errorf("%w: sender_id is required", ErrInvalidInput)
	case t.ReceiverID == "":
		return fmt.Errorf("%w: receiver_id is required", ErrInvalidInput)
	case t.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidInput)
	case t.IPAddress == "":
		return fmt.Errorf("%w: ip_address is required", ErrInvalidInput)
	case t.Amount < 0:
		return fmt.Errorf("%w: amount must be non-negative, got %v", ErrInvalidInput, t.Amount)
	case t.TransactionTime < 0 || t.TransactionTime > 23:
		return fmt.Errorf("%w: transaction_time must be 0-23, got %d", ErrInvalidInput, t.TransactionTime)
	case t.AvgAmountLastWeek < 0:
		return fmt.Errorf("%w: avg_amount_last_week must be non-negative", ErrInvalidInput)
	case t.GeoDistanceKm < 0:
		return fmt.Errorf("%w: geo_distance_from_last_txn must be non-negative", ErrInvalidInput)
	case t.FrequencyLast24h < 0:
		return fmt.Errorf("%w: transaction_frequency_last_24h must be non-negative", ErrInvalidInput)
	case t.ReceiverFraudReports < 0:
		return fmt.Errorf("%w: receiver_fraud_reports must be non-negative", ErrInvalidInput)
	}
	if t.ReceiverAgeDays != nil && *t.ReceiverAgeDays < 0 {
		return fmt.Errorf("%w: receiver_age_days must be non-negative", ErrInvalidInput)
	}
	if t.TimeToPaySeconds != nil && *t.TimeToPaySeconds < 0 {
		return fmt.Errorf("%w: time_between_upi_open_and_pay must be non-negative", ErrInvalidInput)
	}
	if t.OTPDelaySeconds != nil && *t.OTPDelaySeconds < 0 {
		return fmt.Errorf("%w: otp_entry_delay must be non-negative", ErrInvalidInput)
	}
	return nil
}

// NightHour reports whether the given hour falls in the night window.
func NightHour(hour int) bool {
	return hour >= NightStartHour || hour <= NightEndHour
}

// Derive builds the feature vector for a transaction. ref is the
// transaction's reference time and is only used for is_weekend; pass the
// zero time when no timestamp is known (is_weekend stays 0).
func Derive(t *Transaction, ref time.Time) (*Vector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	v := &Vector{
		Amount:            t.Amount,
		TransactionTime:   float64(t.TransactionTime),
		FrequencyLast24h:  float64(t.FrequencyLast24h),
		AvgAmountLastWeek: t.AvgAmountLastWeek,
		GeoDistanceKm:     t.GeoDistanceKm,
		FraudReports:      float64(t.ReceiverFraudReports),
		UniqueSenders:     float64(t.UniqueSendersToReceiver),
		AmountLog:         math.Log1p(t.Amount),
	}

	if t.AvgAmountLastWeek > 0 {
		v.AmountZScore = (t.Amount - t.AvgAmountLastWeek) / t.AvgAmountLastWeek
		if t.Amount > HighAmountMultiplier*t.AvgAmountLastWeek {
			v.HighAmountFlag = 1
		}
	}
	if t.Amount < MicroAmountLimit {
		v.MicroAmountFlag = 1
	}

	if t.AmountDeviation != nil {
		v.AmountDeviation = *t.AmountDeviation
	} else if t.AvgAmountLastWeek > 0 {
		v.AmountDeviation = math.Abs(t.Amount - t.AvgAmountLastWeek)
	}

	if t.ReceiverAgeDays != nil {
		v.ReceiverAgeDays = float64(*t.ReceiverAgeDays)
		if *t.ReceiverAgeDays < NewReceiverAgeDays {
			v.NewReceiverFlag = 1
		}
	}
	if t.ReceiverFraudReports >= HighRiskReportCount {
		v.HighRiskReceiver = 1
	}
	if t.GeoDistanceKm > LocationRiskKm {
		v.LocationRisk = 1
	}

	if t.TimeToPaySeconds != nil {
		v.TimeToPay = *t.TimeToPaySeconds
		if *t.TimeToPaySeconds < QuickPaySeconds {
			v.QuickTransaction = 1
		}
	}
	if t.OTPDelaySeconds != nil {
		v.OTPDelay = *t.OTPDelaySeconds
		if *t.OTPDelaySeconds > SlowOTPSeconds {
			v.SlowOTPEntry = 1
		}
	}

	if t.FrequencyLast24h > HighFrequencyCount {
		v.HighFrequencyFlag = 1
	}
	if NightHour(t.TransactionTime) {
		v.NightTransaction = 1
	}

	if t.UnusualHour != nil {
		if *t.UnusualHour != 0 {
			v.UnusualHour = 1
		}
	} else {
		v.UnusualHour = v.NightTransaction
	}

	if !ref.IsZero() {
		if wd := ref.Weekday(); wd == time.Saturday || wd == time.Sunday {
			v.IsWeekend = 1
		}
	}

	return v, nil
}
