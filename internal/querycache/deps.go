package querycache

import (
	"context"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

// Mutation names settled through the dependency table.
const (
	MutationCheckQuality      = "checkQuality"
	MutationCheckQualityBulk  = "checkQualityBulk"
	MutationUploadFiles       = "uploadFiles"
	MutationDeleteObservation = "deleteObservation"
	MutationUpsertDeployment  = "upsertDeployment"
	MutationUpsertDevice      = "upsertDevice"
)

// DependencyTable maps a mutation to the key prefixes it makes stale.
type DependencyTable map[string][]Key

// PortalDependencies is the table used by the portal services.
func PortalDependencies() DependencyTable {
	return DependencyTable{
		MutationCheckQuality:      {{"datafiles"}, {"datafile"}, {"qualityStatus"}},
		MutationCheckQualityBulk:  {{"datafiles"}, {"datafile"}, {"qualityStatus"}, {"deployments"}},
		MutationUploadFiles:       {{"datafiles"}, {"dateRange"}, {"deployments"}, {"deployment"}},
		MutationDeleteObservation: {{"observations"}},
		MutationUpsertDeployment:  {{"deployments"}, {"deployment"}},
		MutationUpsertDevice:      {{"devices"}, {"device"}},
	}
}

// Settle invalidates everything the named mutation depends on. Call it only
// after the mutation succeeded; an unknown mutation is a no-op.
func (c *Cache) Settle(ctx context.Context, mutation string) {
	prefixes, ok := c.deps[mutation]
	if !ok {
		c.log.Warn("settle called for mutation without dependencies", logger.String("mutation", mutation))
		return
	}
	c.Invalidate(ctx, prefixes...)
}
