package config

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_Decode(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		json    string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", yaml: `d: 250ms`, json: `{"d":"250ms"}`, want: 250 * time.Millisecond},
		{name: "compound", yaml: `d: 1m30s`, json: `{"d":"1m30s"}`, want: 90 * time.Second},
		{name: "milliseconds", yaml: `d: 1500`, json: `{"d":1500}`, want: 1500 * time.Millisecond},
		{name: "garbage", yaml: `d: later`, json: `{"d":"later"}`, wantErr: true},
		{name: "wrong type", yaml: `d: [1]`, json: `{"d":[1]}`, wantErr: true},
	}

	type doc struct {
		D Duration `yaml:"d" json:"d"`
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var y doc
			err := yaml.Unmarshal([]byte(tt.yaml), &y)
			if (err != nil) != tt.wantErr {
				t.Fatalf("yaml error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && y.D.Duration != tt.want {
				t.Errorf("yaml = %v, want %v", y.D, tt.want)
			}

			var j doc
			err = json.Unmarshal([]byte(tt.json), &j)
			if (err != nil) != tt.wantErr {
				t.Fatalf("json error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && j.D.Duration != tt.want {
				t.Errorf("json = %v, want %v", j.D, tt.want)
			}
		})
	}
}

func TestDuration_Encode(t *testing.T) {
	out, err := yaml.Marshal(map[string]Duration{"tick_period": D(2 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "tick_period: 2s\n" {
		t.Errorf("yaml = %q", out)
	}

	raw, err := json.Marshal(D(1500 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"1.5s"` {
		t.Errorf("json = %s", raw)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	one := ValidationErrors{{File: "t.cue", Line: 3, Path: "jitter", Message: "out of bound"}}
	if got := one.Error(); got != "t.cue:3: jitter: out of bound" {
		t.Errorf("single = %q", got)
	}

	two := ValidationErrors{
		{Path: "day_length", Message: "must be positive"},
		{Message: "bad"},
	}
	want := "2 validation errors:\n  day_length: must be positive\n  bad"
	if got := two.Error(); got != want {
		t.Errorf("multiple = %q, want %q", got, want)
	}
}
