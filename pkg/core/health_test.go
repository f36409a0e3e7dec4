package core

import "testing"

func TestAggregateHealthPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"no resources", nil, HealthHealthy},
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"degraded wins over everything", []HealthStatus{HealthHealthy, HealthProgressing, HealthMissing, HealthDegraded}, HealthDegraded},
		{"progressing wins over missing", []HealthStatus{HealthMissing, HealthProgressing, HealthHealthy}, HealthProgressing},
		{"missing wins over healthy", []HealthStatus{HealthHealthy, HealthMissing}, HealthMissing},
		{"unknown when not all healthy", []HealthStatus{HealthHealthy, HealthUnknown}, HealthUnknown},
		{"single unknown", []HealthStatus{HealthUnknown}, HealthUnknown},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := AggregateHealth(testCase.statuses); got != testCase.want {
				t.Fatalf("AggregateHealth = %s, want %s", got, testCase.want)
			}
		})
	}
}
