package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-02-23 12:34:56 machine=M017 sensor=volt value=171.34"
	readings, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("readings: %d", len(readings))
	}
	if readings[0].MachineID != "M017" {
		t.Fatalf("machine id: %s", readings[0].MachineID)
	}
	if readings[0].SensorID != "volt" || readings[0].Value != "171.34" {
		t.Fatalf("sensor/value missing")
	}
	if readings[0].Timestamp == "" {
		t.Fatalf("timestamp missing")
	}
}

func TestParseCSVNarrow(t *testing.T) {
	p := NewParser()
	if readings, _ := p.ParseLine("timestamp,machine_id,sensor_id,value"); readings != nil {
		t.Fatalf("expected header to return nil")
	}
	readings, err := p.ParseLine("2026-02-23T12:34:56Z,M017,volt,171.34")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("readings: %d", len(readings))
	}
	if readings[0].MachineID != "M017" || readings[0].SensorID != "volt" {
		t.Fatalf("csv parse mismatch")
	}
}

func TestParseCSVWide(t *testing.T) {
	p := NewParser()
	if readings, _ := p.ParseLine("datetime,machineID,volt,rotate,pressure,vibration"); readings != nil {
		t.Fatalf("expected header to return nil")
	}
	readings, err := p.ParseLine("2015-01-01 06:00:00,1,176.21,418.50,113.07,45.08")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 4 {
		t.Fatalf("readings: %d", len(readings))
	}
	for _, rd := range readings {
		if rd.MachineID != "1" || rd.Timestamp != "2015-01-01 06:00:00" {
			t.Fatalf("base fields not carried: %+v", rd)
		}
	}
	if readings[0].SensorID != "volt" || readings[0].Value != "176.21" {
		t.Fatalf("wide column mismatch: %+v", readings[0])
	}
	if readings[3].SensorID != "vibration" || readings[3].Value != "45.08" {
		t.Fatalf("wide column mismatch: %+v", readings[3])
	}
}

func TestParseCSVPositional(t *testing.T) {
	p := NewParser()
	readings, err := p.ParseLine("2026-02-23T12:34:56Z,M017,volt,171.34")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 1 || readings[0].SensorID != "volt" || readings[0].Value != "171.34" {
		t.Fatalf("positional parse mismatch: %+v", readings)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-02-23T12:34:56Z","machine":"M017","sensor":"volt","value":171.34}`
	readings, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("readings: %d", len(readings))
	}
	if readings[0].MachineID != "M017" || readings[0].SensorID != "volt" {
		t.Fatalf("json parse mismatch")
	}
}

func TestParseJSONWide(t *testing.T) {
	p := NewParser()
	line := `{"datetime":"2015-01-01 06:00:00","machineID":"1","volt":176.21,"rotate":418.5}`
	readings, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("readings: %d", len(readings))
	}
	if readings[0].SensorID != "rotate" || readings[1].SensorID != "volt" {
		t.Fatalf("wide sensors: %+v", readings)
	}
	if readings[1].Value != "176.21" {
		t.Fatalf("wide value: %s", readings[1].Value)
	}
}
