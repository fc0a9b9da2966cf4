package report

import (
	"encoding/json"
	"math"
	"testing"
)

// balanceSheetJSON nests "Net Income" three levels deep under sibling
// sections, the shape accounting reports actually produce.
const balanceSheetJSON = `{
  "Rows": {
    "Row": [
      {
        "Header": {"ColData": [{"value": "Assets"}]},
        "Rows": {
          "Row": [
            {
              "Header": {"ColData": [{"value": "Current Assets"}]},
              "Rows": {
                "Row": [
                  {
                    "Header": {"ColData": [{"value": "Bank Accounts"}]},
                    "Rows": {
                      "Row": [
                        {"ColData": [{"value": "Checking"}, {"value": "1200.50"}]},
                        {"ColData": [{"value": "Savings"}, {"value": "800.25"}]}
                      ]
                    },
                    "Summary": {"ColData": [{"value": "Total Bank Accounts"}, {"value": "2000.75"}]}
                  }
                ]
              },
              "Summary": {"ColData": [{"value": "Total Current Assets"}, {"value": "2000.75"}]}
            }
          ]
        },
        "Summary": {"ColData": [{"value": "Total Assets"}, {"value": "2000.75"}]}
      },
      {
        "Header": {"ColData": [{"value": "Equity"}]},
        "Rows": {
          "Row": [
            {
              "Header": {"ColData": [{"value": "Retained Earnings"}]},
              "Rows": {
                "Row": [
                  {"ColData": [{"value": "Net Income"}, {"value": "534.18"}]}
                ]
              }
            }
          ]
        }
      }
    ]
  }
}`

func decodeTree(t *testing.T, raw string) Tree {
	t.Helper()
	var tree Tree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	return tree
}

func TestFindValue_NestedThreeLevels(t *testing.T) {
	tree := decodeTree(t, balanceSheetJSON)

	got, ok := FindValue(tree.Rows.Row, "Net Income")
	if !ok {
		t.Fatal("FindValue(Net Income) not found")
	}
	if got != 534.18 {
		t.Errorf("FindValue(Net Income) = %v, want 534.18", got)
	}
}

func TestFindValue_AbsentLabel(t *testing.T) {
	tree := decodeTree(t, balanceSheetJSON)

	if _, ok := FindValue(tree.Rows.Row, "Gross Profit"); ok {
		t.Error("FindValue(Gross Profit) should report not found")
	}
}

func TestFindValue_SummaryRow(t *testing.T) {
	tree := decodeTree(t, balanceSheetJSON)

	got, ok := FindValue(tree.Rows.Row, "Total Current Assets")
	if !ok {
		t.Fatal("FindValue(Total Current Assets) not found")
	}
	if got != 2000.75 {
		t.Errorf("FindValue(Total Current Assets) = %v, want 2000.75", got)
	}
}

func TestFindSection(t *testing.T) {
	tree := decodeTree(t, balanceSheetJSON)

	section, ok := FindSection(tree.Rows.Row, "Bank Accounts")
	if !ok {
		t.Fatal("FindSection(Bank Accounts) not found")
	}
	if section.Summary == nil {
		t.Fatal("section summary missing")
	}
	if section.Summary.ColData[1].Value != "2000.75" {
		t.Errorf("summary value = %q, want 2000.75", section.Summary.ColData[1].Value)
	}

	if _, ok := FindSection(tree.Rows.Row, "Liabilities"); ok {
		t.Error("FindSection(Liabilities) should report not found")
	}
}

func TestSummaryValue(t *testing.T) {
	tree := decodeTree(t, balanceSheetJSON)

	got, ok := SummaryValue(tree.Rows.Row, "Bank Accounts")
	if !ok {
		t.Fatal("SummaryValue(Bank Accounts) not found")
	}
	if got != 2000.75 {
		t.Errorf("SummaryValue(Bank Accounts) = %v, want 2000.75", got)
	}

	if _, ok := SummaryValue(tree.Rows.Row, "Retained Earnings"); ok {
		t.Error("section without summary should report not found")
	}
}

func TestFindValue_ValueIsZero(t *testing.T) {
	raw := `{"Rows":{"Row":[{"ColData":[{"value":"Net Income"},{"value":"0"}]}]}}`
	tree := decodeTree(t, raw)

	got, ok := FindValue(tree.Rows.Row, "Net Income")
	if !ok {
		t.Fatal("zero-valued label must still be found")
	}
	if got != 0 {
		t.Errorf("FindValue = %v, want 0", got)
	}
}

func TestDiv_ZeroDenominator(t *testing.T) {
	cases := []struct {
		name string
		got  float64
	}{
		{"Div", Div(5, 0)},
		{"Percent", Percent(0, 0)},
		{"PerThousand", PerThousand(10, 0)},
	}
	for _, tc := range cases {
		if tc.got != 0 {
			t.Errorf("%s with zero denominator = %v, want 0", tc.name, tc.got)
		}
		if math.IsNaN(tc.got) || math.IsInf(tc.got, 0) {
			t.Errorf("%s produced non-finite value", tc.name)
		}
	}
}

func TestPercent(t *testing.T) {
	got := Percent(200, 3000)
	if math.Abs(got-6.67) > 0.01 {
		t.Errorf("Percent(200, 3000) = %v, want 6.67 ±0.01", got)
	}
}
