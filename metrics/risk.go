package metrics

import "time"

// Bucket classifies how urgent an approaching end-of-life date is. This is a
// consumer-side helper; buckets are never stored.
type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketHigh     Bucket = "high"
	BucketMedium   Bucket = "medium"
	BucketLow      Bucket = "low"
	BucketUnknown  Bucket = "unknown"
)

// RiskBucketDays buckets by days until end of life. Negative days (already
// past) are critical.
func RiskBucketDays(days int) Bucket {
	switch {
	case days <= 90:
		return BucketCritical
	case days <= 365:
		return BucketHigh
	case days <= 730:
		return BucketMedium
	default:
		return BucketLow
	}
}

// RiskBucket buckets an optional end-of-life date relative to now. A nil date
// means the lifecycle end is not known.
func RiskBucket(eol *time.Time, now time.Time) Bucket {
	if eol == nil {
		return BucketUnknown
	}
	days := int(eol.Sub(now).Hours() / 24)
	return RiskBucketDays(days)
}
