package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCommandMarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		want    []string
		notWant []string
	}{
		{
			name: "step with empty state",
			cmd:  StepCommand([]float64{}, true),
			want: []string{`"type":"step"`, `"state":[]`, `"explore":true`},
		},
		{
			name: "step with nil state",
			cmd:  StepCommand(nil, false),
			want: []string{`"state":[]`, `"explore":false`},
		},
		{
			name: "step with values",
			cmd:  StepCommand([]float64{1, 2.5}, false),
			want: []string{`"state":[1,2.5]`},
		},
		{
			name:    "quote omits state",
			cmd:     QuoteCommand("AAPL"),
			want:    []string{`"type":"quote"`, `"symbol":"AAPL"`},
			notWant: []string{`"state"`},
		},
		{
			name:    "init omits step fields",
			cmd:     InitCommand(4, 3, ""),
			want:    []string{`"stateDim":4`, `"actionDim":3`},
			notWant: []string{`"state"`, `"explore"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got := string(data)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("%s missing %s", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("%s should not contain %s", got, w)
				}
			}
			if strings.Count(got, `"state"`) > 1 {
				t.Errorf("%s has duplicate state", got)
			}
		})
	}
}

func TestCommandRoundTripKeepsEmptyState(t *testing.T) {
	data, _ := json.Marshal(StepCommand([]float64{}, true))

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cmd.State == nil || len(cmd.State) != 0 {
		t.Errorf("State = %#v, want empty non-nil", cmd.State)
	}
}
