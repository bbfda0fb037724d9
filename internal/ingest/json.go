package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"machguard/internal/normalize"
)

func ParseJSONBytes(data []byte) ([]normalize.ReadingFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) []normalize.ReadingFields {
	flat := make(map[string]string, len(obj))
	for key, val := range obj {
		flat[strings.ToLower(key)] = fmt.Sprint(val)
	}
	base := normalize.ReadingFields{
		Timestamp: firstNonEmpty(flat, "datetime", "timestamp", "time", "ts", "date"),
		MachineID: firstNonEmpty(flat, "machine_id", "machineid", "machine", "asset", "device"),
		SensorID:  firstNonEmpty(flat, "sensor_id", "sensorid", "sensor", "metric", "channel"),
		Value:     firstNonEmpty(flat, "value", "val", "reading"),
		Source:    strings.TrimSpace(flat["source"]),
	}
	if base.Value != "" {
		return []normalize.ReadingFields{base}
	}

	var out []normalize.ReadingFields
	for key, val := range obj {
		name := strings.ToLower(strings.TrimSpace(key))
		if columnRole(name) != "" {
			continue
		}
		if _, ok := val.(float64); !ok {
			continue
		}
		fields := base
		fields.SensorID = name
		fields.Value = fmt.Sprint(val)
		out = append(out, fields)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}
