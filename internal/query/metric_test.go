package query_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/query"
)

func TestCompileMetric_RequiresProperty(t *testing.T) {
	for _, typ := range []models.MetricType{
		models.MetricCountDistinct,
		models.MetricSum,
		models.MetricAverage,
		models.MetricMin,
		models.MetricMax,
	} {
		_, err := query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: typ})
		var cfgErr *query.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s without property: expected ConfigurationError, got %v", typ, err)
		}
	}
}

func TestCompileMetric_NoPropertyNeeded(t *testing.T) {
	frag, err := query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: models.MetricTotal})
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if frag.SQL != "count()" {
		t.Fatalf("total: got %q", frag.SQL)
	}

	frag, err = query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: models.MetricUniqueEntities})
	if err != nil {
		t.Fatalf("unique_entities: %v", err)
	}
	if !strings.Contains(frag.SQL, "uniqExact(") || !strings.Contains(frag.SQL, "user_id") {
		t.Fatalf("unique_entities must count the entity expression, got %q", frag.SQL)
	}
}

func TestCompileMetric_NumericCoercionAsymmetry(t *testing.T) {
	sum, _ := query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: models.MetricSum, Property: "amount"})
	if !strings.Contains(sum.SQL, "toFloat64OrZero(") {
		t.Fatalf("sum coerces non-numeric to zero, got %q", sum.SQL)
	}

	avg, _ := query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: models.MetricAverage, Property: "amount"})
	if !strings.Contains(avg.SQL, "toFloat64OrNull(") {
		t.Fatalf("average excludes non-numeric, got %q", avg.SQL)
	}
}

func TestCompileMetric_UnknownType(t *testing.T) {
	_, err := query.CompileMetric(query.DefaultSchema(), models.MetricSpec{Type: "median"})
	if err == nil {
		t.Fatal("expected error for unknown metric type")
	}
}

func TestFold_Total(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricTotal})
	f.Add("u1", "")
	f.Add("u1", "")
	f.Add("u2", "")
	if got := f.Value(); got != 3 {
		t.Fatalf("total: got %v", got)
	}
}

func TestFold_UniqueEntities(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricUniqueEntities})
	f.Add("u1", "")
	f.Add("u1", "")
	f.Add("u2", "")
	if got := f.Value(); got != 2 {
		t.Fatalf("unique_entities: got %v", got)
	}
}

func TestFold_SumTreatsNonNumericAsZero(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricSum, Property: "amount"})
	f.Add("u1", "10")
	f.Add("u1", "oops")
	f.Add("u2", "2.5")
	if got := f.Value(); got != 12.5 {
		t.Fatalf("sum: got %v", got)
	}
}

func TestFold_AverageExcludesNonNumeric(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricAverage, Property: "amount"})
	f.Add("u1", "10")
	f.Add("u1", "oops")
	f.Add("u2", "20")
	if got := f.Value(); got != 15 {
		t.Fatalf("average: got %v", got)
	}
}

func TestFold_AverageOfNothingIsZero(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricAverage, Property: "amount"})
	f.Add("u1", "oops")
	if got := f.Value(); got != 0 {
		t.Fatalf("average of no numeric rows: got %v", got)
	}
}

func TestFold_MinMax(t *testing.T) {
	min := query.NewFold(models.MetricSpec{Type: models.MetricMin, Property: "amount"})
	max := query.NewFold(models.MetricSpec{Type: models.MetricMax, Property: "amount"})
	for _, v := range []string{"3", "bad", "-1", "7"} {
		min.Add("u1", v)
		max.Add("u1", v)
	}
	if got := min.Value(); got != -1 {
		t.Fatalf("min: got %v", got)
	}
	if got := max.Value(); got != 7 {
		t.Fatalf("max: got %v", got)
	}
}

func TestFold_EmptyMinMaxIsZero(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricMin, Property: "amount"})
	if got := f.Value(); got != 0 {
		t.Fatalf("empty min: got %v", got)
	}
}

func TestFold_CountDistinct(t *testing.T) {
	f := query.NewFold(models.MetricSpec{Type: models.MetricCountDistinct, Property: "plan"})
	f.Add("u1", "pro")
	f.Add("u2", "pro")
	f.Add("u3", "free")
	if got := f.Value(); got != 2 {
		t.Fatalf("count_distinct: got %v", got)
	}
}
