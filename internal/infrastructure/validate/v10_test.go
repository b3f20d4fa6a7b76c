package validate

import "testing"

type payload struct {
	LessonID   string  `json:"lesson_id" validate:"required"`
	Percentage float64 `json:"percentage" validate:"min=0,max=100"`
	Hidden     string  `json:"-" validate:"omitempty,max=2"`
}

func TestPlaygroundV10_Struct(t *testing.T) {
	v := NewValidator("en")
	if errs := v.Struct(&payload{LessonID: "l1", Percentage: 50}); errs != nil {
		t.Fatalf("valid payload rejected: %v", errs)
	}

	errs := v.Struct(&payload{Percentage: 120})
	if len(errs) != 2 {
		t.Fatalf("want 2 field errors got=%d", len(errs))
	}
	domains := map[string]bool{}
	for _, e := range errs {
		domains[e.Domain] = true
		if e.Reason == "" {
			t.Errorf("empty reason for %s", e.Domain)
		}
	}
	if !domains["lesson_id"] || !domains["percentage"] {
		t.Fatalf("field names must come from json tags: %v", domains)
	}
}

func TestPlaygroundV10_Locale(t *testing.T) {
	en := NewValidator("en").Struct(&payload{Percentage: 50})
	zh := NewValidator("zh").Struct(&payload{Percentage: 50})
	if len(en) != 1 || len(zh) != 1 {
		t.Fatalf("want one error each, en=%v zh=%v", en, zh)
	}
	if en[0].Reason == zh[0].Reason {
		t.Fatalf("translations must differ: %s", en[0].Reason)
	}
}

func TestPlaygroundV10_Empty(t *testing.T) {
	v := NewValidator("en")
	if errs := v.Empty("course", ""); len(errs) != 1 || errs[0].Domain != "course" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if errs := v.Empty("course", "c1"); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestPlaygroundV10_Var(t *testing.T) {
	v := NewValidator("en")
	if errs := v.Var("choice", "later", "oneof=resume restart"); len(errs) != 1 || errs[0].Domain != "choice" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if errs := v.Var("choice", "resume", "oneof=resume restart"); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
