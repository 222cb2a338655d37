package portal

import "github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"

// Query keys. The first element is the prefix the mutation dependency table
// invalidates.

func DeploymentsKey() querycache.Key { return querycache.Key{"deployments"} }

func DeploymentKey(site string) querycache.Key { return querycache.Key{"deployment", site} }

func DevicesKey() querycache.Key { return querycache.Key{"devices"} }

func DeviceKey(deviceID string) querycache.Key { return querycache.Key{"device", deviceID} }

func DeviceBySiteKey(site string) querycache.Key {
	return querycache.Key{"device", "bySite", site}
}

func DataFilesKey(site string) querycache.Key { return querycache.Key{"datafiles", site} }

func DataFilesBetweenKey(site, from, to string) querycache.Key {
	return querycache.Key{"datafiles", site, from, to}
}

func DataFileKey(id int64) querycache.Key { return querycache.Key{"datafile", id} }

func DateRangeKey(site string) querycache.Key { return querycache.Key{"dateRange", site} }

func QualityStatusKey(id int64) querycache.Key { return querycache.Key{"qualityStatus", id} }

func ObservationsKey(page, pageSize int) querycache.Key {
	return querycache.Key{"observations", page, pageSize}
}
