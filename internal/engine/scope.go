package engine

import (
	"strings"

	"machguard/internal/config"
)

type ScopeSet struct {
	Enabled         bool
	Machines        map[string]struct{}
	ExcludeMachines map[string]struct{}
	Sensors         map[string]struct{}
	ExcludeSensors  map[string]struct{}
}

func buildScope(cfg *config.Config) *ScopeSet {
	sc := &ScopeSet{Enabled: cfg.Scope.Enabled}
	if !sc.Enabled {
		return sc
	}
	sc.Machines = buildIDSet(cfg.Scope.Machines)
	sc.ExcludeMachines = buildIDSet(cfg.Scope.ExcludeMachines)
	sc.Sensors = buildIDSet(cfg.Scope.Sensors)
	sc.ExcludeSensors = buildIDSet(cfg.Scope.ExcludeSensors)
	return sc
}

func buildIDSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		id := normalizeID(v)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (s *ScopeSet) Allows(machineID, sensorID string) bool {
	if s == nil || !s.Enabled {
		return true
	}
	machine := normalizeID(machineID)
	sensor := normalizeID(sensorID)
	if s.ExcludeMachines != nil {
		if _, ok := s.ExcludeMachines[machine]; ok {
			return false
		}
	}
	if s.ExcludeSensors != nil {
		if _, ok := s.ExcludeSensors[sensor]; ok {
			return false
		}
	}
	if s.Machines != nil {
		if _, ok := s.Machines[machine]; !ok {
			return false
		}
	}
	if s.Sensors != nil {
		if _, ok := s.Sensors[sensor]; !ok {
			return false
		}
	}
	return true
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
