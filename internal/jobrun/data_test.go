package jobrun

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDataMapJSONRoundTrip(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 2, 14, 8, 30, 0, 123456789, time.UTC)
	in := DataMap{
		"target":  String("s3://bucket"),
		"batch":   Number(250),
		"dry_run": Bool(true),
		"since":   Time(when),
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out DataMap
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := out.Text("target"); got != "s3://bucket" {
		t.Fatalf("target: got %q", got)
	}
	if v := out["batch"]; v.Kind() != KindNumber || v.NumberVal() != 250 {
		t.Fatalf("batch: got kind=%v val=%v", v.Kind(), v.NumberVal())
	}
	if v := out["dry_run"]; v.Kind() != KindBool || !v.BoolVal() {
		t.Fatalf("dry_run: got kind=%v", v.Kind())
	}
	if v := out["since"]; v.Kind() != KindTime || !v.TimeVal().Equal(when) {
		t.Fatalf("since: got kind=%v val=%v", v.Kind(), v.TimeVal())
	}
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	m, err := FromAny(map[string]any{
		"s": "text",
		"i": 7,
		"f": 2.5,
		"b": false,
	})
	if err != nil {
		t.Fatalf("FromAny: %v", err)
	}
	if m["i"].NumberVal() != 7 || m["f"].NumberVal() != 2.5 {
		t.Fatalf("numbers not converted: %v %v", m["i"], m["f"])
	}

	if _, err := FromAny(map[string]any{"bad": []string{"x"}}); err == nil {
		t.Fatal("expected error for unsupported type")
	}

	empty, err := FromAny(nil)
	if err != nil || empty != nil {
		t.Fatalf("nil input: got %v, %v", empty, err)
	}
}

func TestMergedDoesNotMutate(t *testing.T) {
	t.Parallel()

	base := DataMap{"a": String("1"), "b": String("2")}
	merged := base.Merged(DataMap{"b": String("override"), "c": String("3")})

	if base.Text("b") != "2" {
		t.Fatalf("base mutated: %q", base.Text("b"))
	}
	if merged.Text("b") != "override" || merged.Text("c") != "3" || merged.Text("a") != "1" {
		t.Fatalf("unexpected merge result: %v", merged)
	}
}
