package sqlgen

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"jsonsql/internal/tables"
)

func TestEmitDocument_PhonesCorpus(t *testing.T) {
	t.Parallel()

	raws := []string{
		`{"Id":"A","Phones":[{"PhoneNumber":"555"}]}`,
		`{"Id":"B","Phones":[]}`,
	}
	p := buildPlan(t, raws, tables.Options{})

	batches, err := EmitDocument("A", normalizeDoc(t, raws[0], ""), p, "", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}

	phones := batches[0]
	if phones.Table.Name != "Phones" {
		t.Fatalf("first batch = %s, want Phones", phones.Table.Name)
	}
	if !reflect.DeepEqual(phones.Columns, []string{"PhonesGeneratedId", "PhoneNumber"}) {
		t.Fatalf("phones columns = %v", phones.Columns)
	}
	if len(phones.Rows) != 1 {
		t.Fatalf("phones rows = %d, want 1", len(phones.Rows))
	}
	phoneID, ok := phones.Rows[0][0].(int64)
	if !ok {
		t.Fatalf("generated id = %T, want int64", phones.Rows[0][0])
	}
	if phones.Rows[0][1] != "555" {
		t.Fatalf("phone number = %v", phones.Rows[0][1])
	}

	listings := batches[1]
	if listings.Table != p.Root {
		t.Fatalf("second batch = %s, want root", listings.Table.Name)
	}
	want := []any{"A", fmt.Sprintf("[%d]", phoneID)}
	if !reflect.DeepEqual(listings.Rows[0], want) {
		t.Fatalf("listings row = %v, want %v", listings.Rows[0], want)
	}

	// The empty-list document yields a listings row only.
	batches, err = EmitDocument("B", normalizeDoc(t, raws[1], ""), p, "", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	if len(batches) != 1 || batches[0].Table != p.Root {
		t.Fatalf("batches for empty-list document = %v", batches)
	}
	if !reflect.DeepEqual(batches[0].Rows[0], []any{"B", "[]"}) {
		t.Fatalf("listings row = %v", batches[0].Rows[0])
	}
}

func TestEmitDocument_FillsTimestamp(t *testing.T) {
	t.Parallel()

	raw := `{"Id":7,"Price":10}`
	p := buildPlan(t, []string{raw}, tables.Options{TimestampColumn: "ComputedLastUpdated"})

	batches, err := EmitDocument("7", normalizeDoc(t, raw, ""), p, "2026-08-25T00:00:00Z", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	row := batches[0].Rows[0]
	last := len(row) - 1
	if batches[0].Columns[last] != "ComputedLastUpdated" {
		t.Fatalf("last column = %s", batches[0].Columns[last])
	}
	if row[last] != "2026-08-25T00:00:00Z" {
		t.Fatalf("timestamp = %v", row[last])
	}
}

func TestEmitDocument_RequiredColumnMissing(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":1,"Price":10}`,
		`{"Id":2,"Price":20}`,
	}, tables.Options{})

	// Price was present in every profiled document, so it is NOT NULL.
	// A later document without it must be rejected, not half-inserted.
	batches, err := EmitDocument("3", normalizeDoc(t, `{"Id":3}`, ""), p, "", Options{})
	if batches != nil {
		t.Fatalf("batches = %v, want none", batches)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if verr.DocID != "3" || verr.Table != "Listings" || verr.Column != "Price" {
		t.Fatalf("validation error = %+v", verr)
	}
}

func TestEmitDocument_MissingPrimaryKey(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{`{"Id":1}`}, tables.Options{})

	_, err := EmitDocument("x", map[string]any{"Price": int64(5)}, p, "", Options{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if verr.Column != "Id" {
		t.Fatalf("column = %s, want Id", verr.Column)
	}
}

func TestEmitDocument_CoercesTowardColumnTypes(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":1,"Count":2,"Price":1.5,"Name":"x","Flag":true}`,
	}, tables.Options{})

	// Typed replay of a document whose raw values disagree with the
	// inferred column types.
	doc := normalizeDoc(t, `{"Id":"9","Count":"41","Price":"2.5","Name":123,"Flag":false}`, "")
	batches, err := EmitDocument("9", doc, p, "", Options{InferTypes: true})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}

	row := map[string]any{}
	for i, name := range batches[0].Columns {
		row[name] = batches[0].Rows[0][i]
	}
	want := map[string]any{
		"Id":    int64(9),    // identifier column parses the digit string
		"Count": int64(41),   // INTEGER column parses the digit string
		"Price": 2.5,         // REAL column parses the decimal string
		"Name":  "123",       // TEXT column renders the number
		"Flag":  int64(0),    // booleans store as 0/1
	}
	if !reflect.DeepEqual(row, want) {
		t.Fatalf("row = %v, want %v", row, want)
	}

	// A string that does not parse is stored as given.
	doc = normalizeDoc(t, `{"Id":2,"Count":"n/a","Price":3,"Name":"y","Flag":true}`, "")
	batches, err = EmitDocument("2", doc, p, "", Options{InferTypes: true})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	for i, name := range batches[0].Columns {
		switch name {
		case "Count":
			if batches[0].Rows[0][i] != "n/a" {
				t.Fatalf("Count = %v, want n/a", batches[0].Rows[0][i])
			}
		case "Price":
			if batches[0].Rows[0][i] != float64(3) {
				t.Fatalf("Price = %v (%T), want 3.0", batches[0].Rows[0][i], batches[0].Rows[0][i])
			}
		case "Flag":
			if batches[0].Rows[0][i] != int64(1) {
				t.Fatalf("Flag = %v, want 1", batches[0].Rows[0][i])
			}
		}
	}
}

func TestEmitDocument_ForeignKeyMode(t *testing.T) {
	t.Parallel()

	raws := []string{
		`{"Id":"A","Phones":[{"PhoneNumber":"555"},{"PhoneNumber":"556"}]}`,
		`{"Id":"B","Phones":[]}`,
	}
	p := buildPlan(t, raws, tables.Options{Link: tables.LinkForeignKey})

	batches, err := EmitDocument("A", normalizeDoc(t, raws[0], ""), p, "", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if batches[0].Table != p.Root {
		t.Fatalf("referenced table must batch first, got %s", batches[0].Table.Name)
	}
	phones := batches[1]
	if len(phones.Rows) != 2 {
		t.Fatalf("phones rows = %d, want 2", len(phones.Rows))
	}
	link := -1
	for i, name := range phones.Columns {
		if name == "Listings_Id" {
			link = i
		}
	}
	if link == -1 {
		t.Fatalf("link column missing from %v", phones.Columns)
	}
	for _, row := range phones.Rows {
		if row[link] != "A" {
			t.Fatalf("link value = %v, want A", row[link])
		}
	}
}

func TestEmitDocument_Deterministic(t *testing.T) {
	t.Parallel()

	raw := `{"Id":"A","Phones":[{"PhoneNumber":"555"}],"Tags":["a","b","c","d"]}`
	p := buildPlan(t, []string{raw}, tables.Options{})

	a, err := EmitDocument("A", normalizeDoc(t, raw, ""), p, "", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	b, err := EmitDocument("A", normalizeDoc(t, raw, ""), p, "", Options{})
	if err != nil {
		t.Fatalf("EmitDocument: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same document produced different batches")
	}
}
