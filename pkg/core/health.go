package core

// HealthStatus classifies the observed health of a resource or of a whole
// application. What "healthy" means for a given resource kind is defined by
// the target system; the engine only aggregates.
type HealthStatus string

const (
	HealthUnknown     HealthStatus = "Unknown"
	HealthHealthy     HealthStatus = "Healthy"
	HealthMissing     HealthStatus = "Missing"
	HealthProgressing HealthStatus = "Progressing"
	HealthDegraded    HealthStatus = "Degraded"
)

// AggregateHealth folds per-resource statuses into an application-level
// status. Precedence: Degraded if any resource is degraded; else Progressing
// if any is progressing; else Missing if any is missing; else Healthy when
// every resource reports healthy; else Unknown. An application with no
// resources is healthy.
func AggregateHealth(statuses []HealthStatus) HealthStatus {
	if len(statuses) == 0 {
		return HealthHealthy
	}
	anyProgressing, anyMissing, allHealthy := false, false, true
	for _, status := range statuses {
		switch status {
		case HealthDegraded:
			return HealthDegraded
		case HealthProgressing:
			anyProgressing = true
		case HealthMissing:
			anyMissing = true
		}
		if status != HealthHealthy {
			allHealthy = false
		}
	}
	switch {
	case anyProgressing:
		return HealthProgressing
	case anyMissing:
		return HealthMissing
	case allHealthy:
		return HealthHealthy
	}
	return HealthUnknown
}
