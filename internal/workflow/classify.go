package workflow

import "debtapproval/internal/model"

// Bucket is the canonical classification of a request status used by every report.
type Bucket string

const (
	BucketAwaitingLeader     Bucket = "awaiting_leader"
	BucketAwaitingCashier    Bucket = "awaiting_cashier"
	BucketAwaitingOperator   Bucket = "awaiting_operator"
	BucketAwaitingSupervisor Bucket = "awaiting_supervisor"
	BucketFinalApproved      Bucket = "final_approved"
	BucketDebtFound          Bucket = "debt_found"
	BucketRejected           Bucket = "rejected"
	BucketCancelled          Bucket = "cancelled"
)

// Buckets lists all buckets in display order.
func Buckets() []Bucket {
	return []Bucket{
		BucketAwaitingLeader, BucketAwaitingCashier, BucketAwaitingOperator, BucketAwaitingSupervisor,
		BucketFinalApproved, BucketDebtFound, BucketRejected, BucketCancelled,
	}
}

var awaiting = map[model.Role]Bucket{
	model.RoleLeader:     BucketAwaitingLeader,
	model.RoleCashier:    BucketAwaitingCashier,
	model.RoleOperator:   BucketAwaitingOperator,
	model.RoleSupervisor: BucketAwaitingSupervisor,
}

// Classify places a (type, status) pair in exactly one bucket.
func Classify(t model.RequestType, status model.RequestStatus) Bucket {
	switch status {
	case model.StatusFinalApproved, model.StatusApprovedBySupervisor:
		return BucketFinalApproved
	case model.StatusDebtFound:
		return BucketDebtFound
	case model.StatusRejected, model.StatusRejectedByLeader:
		return BucketRejected
	case model.StatusCancelled:
		return BucketCancelled
	}
	if role, ok := StageRole(t, status); ok {
		return awaiting[role]
	}
	return BucketCancelled
}

// HasPassed answers "has stage role approved this request?" from the status alone.
// Only main-path statuses are answerable; for terminal escape statuses the
// second result is false and callers must consult the approval records.
func HasPassed(t model.RequestType, status model.RequestStatus, role model.Role) (passed bool, known bool) {
	stage := -1
	for i, s := range mainPaths[t] {
		if s.role == role && role != "" {
			stage = i
		}
	}
	if stage < 0 {
		return false, true
	}
	cur := position(t, status)
	if cur < 0 {
		return false, false
	}
	return cur > stage, true
}

// HasPassedWithRecords resolves HasPassed for any status using the request's approval log.
func HasPassedWithRecords(t model.RequestType, status model.RequestStatus, role model.Role, records []model.ApprovalRecord) bool {
	if passed, known := HasPassed(t, status, role); known {
		return passed
	}
	for _, r := range records {
		if r.ApprovalType == role && r.Outcome == model.OutcomeApproved {
			return true
		}
	}
	return false
}
