package dispatchjob

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestNonTerminalFilter(t *testing.T) {
	filter := nonTerminalFilter("job-1")

	if filter["_id"] != "job-1" {
		t.Errorf("expected _id filter 'job-1', got %v", filter["_id"])
	}

	statusCond, ok := filter["status"].(bson.M)
	if !ok {
		t.Fatalf("expected status condition, got %T", filter["status"])
	}
	nin, ok := statusCond["$nin"].([]DispatchStatus)
	if !ok {
		t.Fatalf("expected $nin status list, got %T", statusCond["$nin"])
	}

	excluded := make(map[DispatchStatus]bool, len(nin))
	for _, s := range nin {
		excluded[s] = true
	}

	// A racing MarkCompleted/MarkError/ResetToPending must never match a
	// job that already reached a terminal state. The filter's exclusion
	// list must agree exactly with DispatchJob.IsTerminal.
	allStatuses := []DispatchStatus{
		DispatchStatusPending,
		DispatchStatusQueued,
		DispatchStatusInProgress,
		DispatchStatusCompleted,
		DispatchStatusError,
		DispatchStatusCancelled,
	}
	for _, status := range allStatuses {
		job := &DispatchJob{Status: status}
		if excluded[status] != job.IsTerminal() {
			t.Errorf("status %s: filter exclusion %v does not match IsTerminal %v",
				status, excluded[status], job.IsTerminal())
		}
	}
}
