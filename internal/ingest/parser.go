package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"machguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) ([]normalize.ReadingFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if readings, err := ParseJSONBytes([]byte(trim)); err == nil {
			return readings, nil
		}
	}
	if strings.Contains(trim, ",") {
		if readings, err := p.csv.Parse(trim); err == nil {
			return readings, nil
		}
	}
	return parsePlain(trim)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) ([]normalize.ReadingFields, error) {
	var fields normalize.ReadingFields
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields.MachineID = firstNonEmpty(kv, "machine_id", "machineid", "machine", "asset", "device")
	fields.SensorID = firstNonEmpty(kv, "sensor_id", "sensorid", "sensor", "metric", "channel")
	fields.Value = firstNonEmpty(kv, "value", "val", "reading")

	if fields.MachineID == "" && rest != "" {
		tokens := strings.Fields(rest)
		if len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.MachineID = tokens[0]
		}
	}
	return []normalize.ReadingFields{fields}, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func columnRole(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "datetime", "timestamp", "time", "ts", "date":
		return "timestamp"
	case "machineid", "machine_id", "machine", "asset", "device":
		return "machine"
	case "sensorid", "sensor_id", "sensor", "metric", "channel":
		return "sensor"
	case "value", "val", "reading":
		return "value"
	case "source":
		return "source"
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) ([]normalize.ReadingFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	if p.header == nil {
		var fields normalize.ReadingFields
		if len(record) >= 1 {
			fields.Timestamp = record[0]
		}
		if len(record) >= 2 {
			fields.MachineID = record[1]
		}
		if len(record) >= 3 {
			fields.SensorID = record[2]
		}
		if len(record) >= 4 {
			fields.Value = record[3]
		}
		return []normalize.ReadingFields{fields}, nil
	}

	base := normalize.ReadingFields{}
	type wideCol struct{ sensor, value string }
	var wide []wideCol
	for i, name := range p.header {
		if i >= len(record) {
			break
		}
		value := strings.TrimSpace(record[i])
		switch columnRole(name) {
		case "timestamp":
			base.Timestamp = value
		case "machine":
			base.MachineID = value
		case "sensor":
			base.SensorID = value
		case "value":
			base.Value = value
		case "source":
			base.Source = value
		default:
			if value != "" {
				wide = append(wide, wideCol{sensor: name, value: value})
			}
		}
	}
	if base.SensorID != "" && base.Value != "" {
		return []normalize.ReadingFields{base}, nil
	}
	out := make([]normalize.ReadingFields, 0, len(wide))
	for _, col := range wide {
		fields := base
		fields.SensorID = col.sensor
		fields.Value = col.value
		out = append(out, fields)
	}
	return out, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		if columnRole(v) != "" {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
