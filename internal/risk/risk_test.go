package risk

import "testing"

func TestClassifyThresholds(t *testing.T) {
	c := NewClassifier(nil, Thresholds{})

	tests := []struct {
		name    string
		matched []string
		title   string
		content string
		want    Level
	}{
		{"none", nil, "Quarterly update", "Nothing of note", Low},
		{"one keyword", []string{"data"}, "Data centre opened", "", Low},
		{"two keywords", []string{"data", "digital"}, "Digital data initiative", "", Medium},
		{"three keywords", []string{"data", "digital", "personal"}, "t", "c", High},
		{"four keywords", []string{"data", "digital", "personal", "privacy"}, "t", "c", High},
		{"five keywords", []string{"data", "digital", "personal", "privacy", "consent"}, "t", "c", Critical},
		{"two critical terms", []string{"data", "breach"}, "Data breach penalty notice", "", Critical},
		{"one critical term", []string{"data", "breach"}, "Data breach reported", "", Medium},
		{"one keyword two critical", []string{"breach"}, "Breach penalty", "", Critical},
		{"critical terms in content", nil, "Notice", "violation found; enforcement begins", Critical},
		{"case insensitive", nil, "PENALTY", "Compliance", Critical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.matched, tt.title, tt.content)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(nil, DefaultThresholds())
	matched := []string{"data", "personal", "protection"}
	first := c.Classify(matched, "Personal data protection rules", "Draft rules notified")
	for i := 0; i < 10; i++ {
		if got := c.Classify(matched, "Personal data protection rules", "Draft rules notified"); got != first {
			t.Fatalf("run %d: expected %s, got %s", i, first, got)
		}
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	c := NewClassifier([]string{"fine"}, Thresholds{Critical: 3, High: 2, Medium: 1, CriticalHits: 1})
	if got := c.Classify([]string{"a"}, "t", "c"); got != Medium {
		t.Errorf("expected medium, got %s", got)
	}
	if got := c.Classify(nil, "A fine was levied", ""); got != Critical {
		t.Errorf("expected critical, got %s", got)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"High", "HIGH", " high "} {
		lv, err := ParseLevel(s)
		if err != nil || lv != High {
			t.Errorf("ParseLevel(%q) = %s, %v", s, lv, err)
		}
	}
	if _, err := ParseLevel("severe"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestAtLeast(t *testing.T) {
	if !Critical.AtLeast(High) || !High.AtLeast(High) {
		t.Error("expected high and critical to pass a high gate")
	}
	if Medium.AtLeast(High) || Level("bogus").AtLeast(Low) {
		t.Error("expected medium and unknown levels to fail")
	}
	if High.Title() != "High" {
		t.Errorf("expected High, got %s", High.Title())
	}
}

func TestCriticalHits(t *testing.T) {
	c := NewClassifier(nil, Thresholds{})
	got := c.CriticalHits("Penalty for breach", "")
	if len(got) != 2 || got[0] != "breach" || got[1] != "penalty" {
		t.Errorf("expected [breach penalty], got %v", got)
	}
}
