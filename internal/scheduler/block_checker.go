package scheduler

import (
	"context"
	"log/slog"

	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
)

// BlockChecker gates BLOCK_ON_ERROR dispatch: a message group that already
// contains ERROR jobs is held back until the errors are resolved. Lookups
// fail open - a store error never stops dispatching.
type BlockChecker struct {
	store dispatchjob.Store
}

// NewBlockChecker creates a new block checker
func NewBlockChecker(store dispatchjob.Store) *BlockChecker {
	return &BlockChecker{
		store: store,
	}
}

// IsGroupBlocked returns true if the message group has any ERROR status jobs
func (c *BlockChecker) IsGroupBlocked(ctx context.Context, messageGroup string) bool {
	if messageGroup == "" {
		return false
	}

	blocked, err := c.store.HasErrorJobsInGroup(ctx, messageGroup)
	if err != nil {
		slog.Error("Failed to check if group is blocked", "error", err, "messageGroup", messageGroup)
		return false
	}

	if blocked {
		slog.Debug("Message group is blocked due to ERROR jobs", "messageGroup", messageGroup)
	}

	return blocked
}

// GetBlockedGroups checks multiple message groups and returns a map of which
// ones contain ERROR status jobs
func (c *BlockChecker) GetBlockedGroups(ctx context.Context, groups []string) map[string]bool {
	if len(groups) == 0 {
		return map[string]bool{}
	}

	uniqueGroups := make(map[string]struct{})
	for _, g := range groups {
		if g != "" {
			uniqueGroups[g] = struct{}{}
		}
	}

	groupList := make([]string, 0, len(uniqueGroups))
	for g := range uniqueGroups {
		groupList = append(groupList, g)
	}

	if len(groupList) == 0 {
		return map[string]bool{}
	}

	blocked, err := c.store.GetBlockedMessageGroups(ctx, groupList)
	if err != nil {
		slog.Error("Failed to get blocked message groups", "error", err, "groupCount", len(groupList))
		return map[string]bool{}
	}

	if len(blocked) > 0 {
		slog.Debug("Found blocked message groups", "blockedCount", len(blocked), "totalGroups", len(groupList))
	}

	return blocked
}

// ShouldBlockJob determines if a job should be held back based on its
// dispatch mode and whether its message group has errors
func (c *BlockChecker) ShouldBlockJob(ctx context.Context, job *dispatchjob.DispatchJob) bool {
	if job.Mode != dispatchjob.DispatchModeBlockOnError {
		return false
	}

	return c.IsGroupBlocked(ctx, job.MessageGroup)
}

// FilterBlockedJobs removes jobs that should be held back from the list.
// Returns the jobs that can be dispatched and the set of blocked groups.
func (c *BlockChecker) FilterBlockedJobs(ctx context.Context, jobs []*dispatchjob.DispatchJob) ([]*dispatchjob.DispatchJob, map[string]bool) {
	if len(jobs) == 0 {
		return jobs, map[string]bool{}
	}

	// Collect unique message groups from BLOCK_ON_ERROR jobs
	blockOnErrorGroups := make([]string, 0)
	groupSet := make(map[string]struct{})

	for _, job := range jobs {
		if job.Mode == dispatchjob.DispatchModeBlockOnError && job.MessageGroup != "" {
			if _, exists := groupSet[job.MessageGroup]; !exists {
				groupSet[job.MessageGroup] = struct{}{}
				blockOnErrorGroups = append(blockOnErrorGroups, job.MessageGroup)
			}
		}
	}

	blockedGroups := c.GetBlockedGroups(ctx, blockOnErrorGroups)

	if len(blockedGroups) == 0 {
		return jobs, blockedGroups
	}

	allowed := make([]*dispatchjob.DispatchJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Mode == dispatchjob.DispatchModeBlockOnError && blockedGroups[job.MessageGroup] {
			slog.Debug("Job blocked due to ERROR jobs in group", "jobId", job.ID, "messageGroup", job.MessageGroup)
			continue
		}
		allowed = append(allowed, job)
	}

	blockedCount := len(jobs) - len(allowed)
	if blockedCount > 0 {
		slog.Info("Filtered blocked jobs due to BLOCK_ON_ERROR mode",
			"blockedJobs", blockedCount,
			"allowedJobs", len(allowed),
			"blockedGroups", len(blockedGroups))
	}

	return allowed, blockedGroups
}
