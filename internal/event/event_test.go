package event

import "testing"

func TestParseType_KnownAndCustom(t *testing.T) {
	cases := []struct {
		in   string
		want Type
	}{
		{"ci.result", TypeCIResult},
		{"deploy.result", TypeDeployResult},
		{"incident.detected", TypeIncidentDetected},
		{"pattern.good", TypePatternGood},
		{"pattern.bad", TypePatternBad},
		{"epic.update", TypeEpicUpdate},
		{"operator.command", TypeOperatorCommand},
		{"something.else", TypeCustom},
		{"", TypeCustom},
	}
	for _, tc := range cases {
		if got := ParseType(tc.in); got != tc.want {
			t.Errorf("ParseType(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{
		"tool":    "deploy",
		"command": "rollback",
		"args":    map[string]any{"service": "api"},
	})
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Tool != "deploy" || cmd.Command != "rollback" {
		t.Errorf("unexpected command: %+v", cmd)
	}
	if cmd.Args["service"] != "api" {
		t.Errorf("args not carried: %+v", cmd.Args)
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	for _, payload := range []map[string]any{
		{},
		{"tool": "deploy"},
		{"command": "rollback"},
		{"tool": 42, "command": "rollback"},
	} {
		if _, err := ParseCommand(payload); err == nil {
			t.Errorf("ParseCommand(%v): expected error", payload)
		}
	}
}
