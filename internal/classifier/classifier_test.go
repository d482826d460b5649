package classifier

import (
	"reflect"
	"sort"
	"testing"
)

func TestClassifyBaseCourse(t *testing.T) {
	c := Default().Classify(1999, "")

	if !reflect.DeepEqual(c.SKUs, []string{SKUCourse}) {
		t.Errorf("expected base course, got %v", c.SKUs)
	}
	if c.Source != SourceAmountBased {
		t.Errorf("expected amount_based, got %s", c.Source)
	}
	if !c.Flags.CourseAccess || c.Flags.DatabaseDelivery || c.Flags.CallScheduling {
		t.Errorf("unexpected flags: %+v", c.Flags)
	}
	if c.Unrecognized || c.AmountMismatch {
		t.Errorf("unexpected warning flags: %+v", c)
	}
}

func TestClassifyTiers(t *testing.T) {
	catalog := Default()

	tests := []struct {
		amount int64
		want   []string
	}{
		{11999, []string{SKUCourse, SKUDatabase, SKUStrategyCall}},
		{15000, []string{SKUCourse, SKUDatabase, SKUStrategyCall}},
		{6998, []string{SKUCourse, SKUDatabase}},
		{11998, []string{SKUCourse, SKUDatabase}},
		{1999, []string{SKUCourse}},
		{5000, []string{SKUCourse}},
	}

	for _, tt := range tests {
		got := catalog.Classify(tt.amount, "")
		if !reflect.DeepEqual(got.SKUs, tt.want) {
			t.Errorf("Classify(%d) = %v, want %v", tt.amount, got.SKUs, tt.want)
		}
	}
}

func TestClassifyTotality(t *testing.T) {
	catalog := Default()

	// Every amount, even below the lowest tier, yields a non-empty bundle
	for _, amount := range []int64{0, 1, 99, 500, 1998} {
		got := catalog.Classify(amount, "")
		if len(got.SKUs) == 0 {
			t.Fatalf("Classify(%d) returned an empty product set", amount)
		}
		if !got.Unrecognized {
			t.Errorf("Classify(%d) should flag the below-tier fallback", amount)
		}
		if !reflect.DeepEqual(got.SKUs, []string{SKUCourse}) {
			t.Errorf("Classify(%d) fallback = %v, want base course", amount, got.SKUs)
		}
	}
}

func TestClassifyHintAcceptedWithinTolerance(t *testing.T) {
	// course 1999 + database 4999 + strategy_call 5000 = 11998, amount 11999
	c := Default().Classify(11999, `["course","database","strategy_call"]`)

	if c.Source != SourceHintBased {
		t.Fatalf("expected hint_based, got %s (%+v)", c.Source, c)
	}
	want := []string{SKUCourse, SKUDatabase, SKUStrategyCall}
	if !reflect.DeepEqual(c.SKUs, want) {
		t.Errorf("SKUs = %v, want %v", c.SKUs, want)
	}
	if !c.Flags.CourseAccess || !c.Flags.DatabaseDelivery || !c.Flags.CallScheduling {
		t.Errorf("expected all delivery flags set, got %+v", c.Flags)
	}
	if c.AmountMismatch {
		t.Error("accepted hint must not set the mismatch flag")
	}
}

func TestClassifyHintExactMatch(t *testing.T) {
	// course 1999 + database 4999 = 6998 exactly
	c := Default().Classify(6998, `["course","database"]`)

	if c.Source != SourceHintBased {
		t.Fatalf("expected hint_based, got %s", c.Source)
	}
}

func TestClassifyHintRejectedOnMismatch(t *testing.T) {
	// Hint sums to 1999, far from the paid 11999: amount wins, flag set
	c := Default().Classify(11999, `["course"]`)

	if c.Source != SourceAmountBased {
		t.Fatalf("expected amount_based, got %s", c.Source)
	}
	if !c.AmountMismatch {
		t.Error("rejected hint must set the mismatch flag")
	}
	want := []string{SKUCourse, SKUDatabase, SKUStrategyCall}
	if !reflect.DeepEqual(c.SKUs, want) {
		t.Errorf("SKUs = %v, want %v", c.SKUs, want)
	}
}

func TestClassifyMalformedHintTreatedAsAbsent(t *testing.T) {
	catalog := Default()

	hints := []string{
		`not json`,
		`{"products":"course"}`,
		`[]`,
		`["unknown_sku"]`,
		`[1,2,3]`,
		`   `,
	}

	for _, hint := range hints {
		c := catalog.Classify(1999, hint)
		if c.Source != SourceAmountBased {
			t.Errorf("hint %q should be ignored, got source %s", hint, c.Source)
		}
		if c.AmountMismatch {
			t.Errorf("hint %q is absent, not a mismatch", hint)
		}
	}
}

func TestClassifyHintDeduplicatesAndNormalizes(t *testing.T) {
	// Duplicate and oddly cased entries collapse before pricing
	c := Default().Classify(1999, `["Course"," course "]`)

	if c.Source != SourceHintBased {
		t.Fatalf("expected hint_based, got %s", c.Source)
	}
	if !reflect.DeepEqual(c.SKUs, []string{SKUCourse}) {
		t.Errorf("SKUs = %v, want [course]", c.SKUs)
	}
}

func TestLoadCatalogOverride(t *testing.T) {
	raw := `{
		"prices": {"course": 2999, "database": 5999},
		"tiers": [
			{"min_amount": 2999, "skus": ["course"]},
			{"min_amount": 8998, "skus": ["course", "database"]}
		],
		"tolerance": 2
	}`

	catalog, err := Load(raw)
	if err != nil {
		t.Fatal(err)
	}

	// Tiers must be evaluated highest threshold first regardless of input order
	got := catalog.Classify(9000, "")
	want := []string{"course", "database"}
	sort.Strings(got.SKUs)
	if !reflect.DeepEqual(got.SKUs, want) {
		t.Errorf("Classify(9000) = %v, want %v", got.SKUs, want)
	}

	if c := catalog.Classify(9000, `["course","database"]`); c.Source != SourceHintBased {
		t.Errorf("tolerance 2 should accept a hint summing to 8998 for amount 9000, got %s", c.Source)
	}
}

func TestLoadCatalogRejectsInvalid(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"prices":{"course":1999},"tiers":[]}`,
		`{"prices":{"course":1999},"tiers":[{"min_amount":1,"skus":["missing"]}]}`,
		`{"prices":{"course":1999},"tiers":[{"min_amount":1,"skus":[]}]}`,
	}

	for _, raw := range cases {
		if _, err := Load(raw); err == nil {
			t.Errorf("Load(%q) should fail", raw)
		}
	}
}
