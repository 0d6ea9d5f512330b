package internaldefs

import (
	"github.com/thisjowi/keyward"
)

// Def names one exported series.
type Def struct {
	ID   keyward.MetricID
	Name string
	Help string
}

// Counters lists every counter in exposition order.
var Counters = []Def{
	{keyward.MetricTokenIssued, "keyward_token_issued_total", "Bearer tokens issued."},
	{keyward.MetricTokenRejected, "keyward_token_rejected_total", "Bearer tokens rejected."},
	{keyward.MetricRateLimitHit, "keyward_rate_limit_hit_total", "Requests denied by the rate limiter."},
	{keyward.MetricRateLimitStoreError, "keyward_rate_limit_store_error_total", "Rate limit checks that failed on the bucket store."},
	{keyward.MetricLoginSuccess, "keyward_login_success_total", "Successful logins."},
	{keyward.MetricLoginFailure, "keyward_login_failure_total", "Failed logins."},
	{keyward.MetricRegisterSuccess, "keyward_register_success_total", "Registered identities."},
	{keyward.MetricRegisterDuplicate, "keyward_register_duplicate_total", "Registrations rejected for a taken email."},
	{keyward.MetricPasswordChangeSuccess, "keyward_password_change_success_total", "Successful password changes."},
	{keyward.MetricPasswordChangeWeak, "keyward_password_change_weak_total", "Password changes rejected by the strength policy."},
	{keyward.MetricPasswordChangeMismatch, "keyward_password_change_mismatch_total", "Password changes with a mismatched confirmation."},
	{keyward.MetricPasswordChangeInvalidCurrent, "keyward_password_change_invalid_current_total", "Password changes with a wrong current password."},
	{keyward.MetricPasswordChangeReuseRejected, "keyward_password_change_reuse_rejected_total", "Password changes rejected for reuse."},
	{keyward.MetricPasswordRehashed, "keyward_password_rehashed_total", "Stored hashes upgraded at login."},
	{keyward.MetricOTPCreated, "keyward_otp_created_total", "OTP secrets created."},
	{keyward.MetricOTPDeduplicated, "keyward_otp_deduplicated_total", "OTP enrollments collapsed to an existing secret."},
	{keyward.MetricOTPProvisioned, "keyward_otp_provisioned_total", "OTP secrets provisioned for new identities."},
	{keyward.MetricOTPValidateSuccess, "keyward_otp_validate_success_total", "Accepted OTP codes."},
	{keyward.MetricOTPValidateFailure, "keyward_otp_validate_failure_total", "Rejected OTP codes."},
	{keyward.MetricOTPRateLimited, "keyward_otp_rate_limited_total", "OTP validations blocked by the attempt limiter."},
	{keyward.MetricDecryptFallback, "keyward_decrypt_fallback_total", "Stored fields served as legacy plaintext."},
	{keyward.MetricEventPublishFailure, "keyward_event_publish_failure_total", "Integration events that failed to publish."},
}

// Histograms lists every latency histogram.
var Histograms = []Def{
	{keyward.MetricVerifyLatency, "keyward_verify_latency_seconds", "Bearer verification latency."},
}

// AuditDropped is the counter of audit events dropped under backpressure.
var AuditDropped = Def{Name: "keyward_audit_dropped_total", Help: "Audit events dropped under dispatcher backpressure."}

// Bounds are the upper bounds of the eight latency buckets, in seconds, as
// Prometheus le labels and as instrument name suffixes.
var (
	Bounds      = [BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}
	BoundSuffix = [BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}
)

// BucketCount is the number of latency buckets.
const BucketCount = 8

// Cumulative converts per-bucket counts into running totals. Missing
// buckets count as zero.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
