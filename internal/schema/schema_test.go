package schema

import "testing"

func TestValidateAcceptsMinimalMission(t *testing.T) {
	doc := map[string]any{
		"name":    "sample",
		"desc":    "a sample mission",
		"version": "1",
		"drivers": []any{"CTDPF"},
		"blocks": []any{
			map[string]any{
				"label": "mission",
				"sequence": []any{
					map[string]any{"sleep": 1},
				},
			},
		},
	}
	if err := Validate(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	doc := map[string]any{
		"name": "sample",
	}
	if err := Validate(doc); err == nil {
		t.Fatal("expected an error for a document missing desc/version/drivers/blocks")
	}
}

func TestValidateRejectsBlockWithoutSequence(t *testing.T) {
	doc := map[string]any{
		"name":    "sample",
		"desc":    "a sample mission",
		"version": "1",
		"drivers": []any{"CTDPF"},
		"blocks": []any{
			map[string]any{"label": "mission"},
		},
	}
	if err := Validate(doc); err == nil {
		t.Fatal("expected an error for a block missing sequence")
	}
}

func TestValidateAcceptsCronSchedule(t *testing.T) {
	doc := map[string]any{
		"name":    "sample",
		"desc":    "a sample mission",
		"version": "1",
		"drivers": []any{"CTDPF"},
		"schedule": map[string]any{
			"hour": "*/2",
		},
		"blocks": []any{
			map[string]any{
				"label":    "mission",
				"sequence": []any{map[string]any{"sleep": 1}},
			},
		},
	}
	if err := Validate(doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
