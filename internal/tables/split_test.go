package tables

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"jsonsql/internal/normalize"
	"jsonsql/internal/profile"
)

// buildPlan runs raw JSON documents through the normalize/profile/split
// pipeline the way the engine does.
func buildPlan(t *testing.T, raws []string, opts Options) *Plan {
	t.Helper()
	p, err := tryBuildPlan(t, raws, opts)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return p
}

func tryBuildPlan(t *testing.T, raws []string, opts Options) (*Plan, error) {
	t.Helper()
	var agg profile.Aggregate
	for _, raw := range raws {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		norm, err := normalize.Normalize(v, normalize.Options{RootName: opts.RootName})
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if err := agg.Add(norm); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return Split(agg.Root, agg.Docs, opts)
}

func columnNames(tb *Table) []string {
	names := make([]string, len(tb.Columns))
	for i, c := range tb.Columns {
		names[i] = c.Name
	}
	return names
}

func namesEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// TestSplitPhonesCorpus pins the schema inferred from the canonical
// two-document corpus: one document with a phone, one with an empty list.
func TestSplitPhonesCorpus(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"A","Phones":[{"PhoneNumber":"555","PhonesGeneratedId":null}]}`,
		`{"Id":"B","Phones":[]}`,
	}, Options{})

	if len(p.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(p.Tables))
	}
	// Extraction depth order: Phones before Listings.
	if p.Tables[0].Name != "Phones" || p.Tables[1].Name != "Listings" {
		t.Fatalf("table order = %s, %s", p.Tables[0].Name, p.Tables[1].Name)
	}

	listings := p.Root
	if got := columnNames(listings); !namesEqual(got, []string{"Id", "Phones"}) {
		t.Fatalf("Listings columns = %v", got)
	}
	id := listings.Column("Id")
	if !id.PrimaryKey || !id.NotNull {
		t.Fatalf("Id = %+v, want primary key and NOT NULL", id)
	}
	ref := listings.Column("Phones")
	if !ref.Ref || !ref.NotNull {
		t.Fatalf("Phones reference column = %+v, want Ref and NOT NULL", ref)
	}

	phones := p.TableByName("Phones")
	if got := columnNames(phones); !namesEqual(got, []string{"PhonesGeneratedId", "PhoneNumber"}) {
		t.Fatalf("Phones columns = %v", got)
	}
	if pk := phones.PrimaryKey(); pk == nil || pk.Name != "PhonesGeneratedId" {
		t.Fatalf("Phones primary key = %+v", pk)
	}
	// Present in 1 of 2 documents: nullable, per corpus-level accounting.
	if phones.Column("PhoneNumber").NotNull {
		t.Fatalf("PhoneNumber must be nullable")
	}
	if phones.Column("PhonesGeneratedId").NotNull {
		t.Fatalf("PhonesGeneratedId must be nullable")
	}
}

// TestSplitFlattening verifies nested objects flatten into "_"-joined
// column names and long scalar lists stay columns.
func TestSplitFlattening(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"A","Property":{"Address":{"AddressText":"1 Main St","City":"Ottawa"},"Price":"100"},"Tags":["a","b","c","d"]}`,
	}, Options{})

	if len(p.Tables) != 1 {
		t.Fatalf("tables = %d, want just the root", len(p.Tables))
	}
	want := []string{"Id", "Property_Address_AddressText", "Property_Address_City", "Property_Price", "Tags"}
	if got := columnNames(p.Root); !namesEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	if !p.Root.Column("Tags").NotNull {
		t.Fatalf("Tags present in every document, want NOT NULL")
	}
}

// TestSplitNestedLists verifies recursion: a list inside a list element
// becomes its own deeper table.
func TestSplitNestedLists(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"X","Individual":[{"IndividualID":1,"Websites":[{"Website":"http://a","WebsiteTypeId":0}]}]}`,
	}, Options{})

	individual := p.TableByName("Individual")
	if individual == nil || individual.Depth != 1 {
		t.Fatalf("Individual = %+v", individual)
	}
	websites := p.TableByName("Websites")
	if websites == nil || websites.Depth != 2 {
		t.Fatalf("Websites = %+v", websites)
	}
	if p.Tables[0] != websites {
		t.Fatalf("deepest table first, got %s", p.Tables[0].Name)
	}
	if ref := individual.Column("Websites"); ref == nil || !ref.Ref {
		t.Fatalf("Individual.Websites = %+v, want reference column", ref)
	}
	if pk := individual.PrimaryKey(); pk == nil || pk.Name != "IndividualID" {
		t.Fatalf("Individual primary key = %+v", pk)
	}
}

// TestSplitTableNameDisambiguation verifies two extracted tables with the
// same deepest key re-derive their names from longer path suffixes.
func TestSplitTableNameDisambiguation(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"X","Individual":[{"IndividualID":1,"Phones":[{"PhoneNumber":"1"}],"Organization":[{"OrganizationID":2,"Phones":[{"PhoneNumber":"2"}]}]}]}`,
	}, Options{})

	for _, name := range []string{"Individual_Phones", "Organization_Phones"} {
		if p.TableByName(name) == nil {
			t.Fatalf("missing disambiguated table %s; have %v", name, tableNames(p))
		}
	}
	if p.TableByName("Phones") != nil {
		t.Fatalf("ambiguous short name survived: %v", tableNames(p))
	}
	// Reference columns keep the child key, renaming only affects tables.
	if ref := p.TableByName("Individual").Column("Phones"); ref == nil || !ref.Ref {
		t.Fatalf("Individual.Phones reference = %+v", ref)
	}
}

func tableNames(p *Plan) []string {
	names := make([]string, len(p.Tables))
	for i, tb := range p.Tables {
		names[i] = tb.Name
	}
	return names
}

// TestSplitColumnCollision verifies two paths flattening to one column name
// fail loudly instead of shadowing each other.
func TestSplitColumnCollision(t *testing.T) {
	t.Parallel()

	_, err := tryBuildPlan(t, []string{
		`{"Id":"X","A_B":"1","A":{"B":"2"}}`,
	}, Options{})
	if err == nil {
		t.Fatalf("collision not detected")
	}
	var ce *CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T, want *CollisionError", err)
	}
	if ce.Name != "A_B" || len(ce.Paths) != 2 {
		t.Fatalf("collision = %+v", ce)
	}
}

// TestSplitPresence verifies NOT NULL tracks corpus-wide presence.
func TestSplitPresence(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"A","Price":"100"}`,
		`{"Id":"B","Price":"200"}`,
		`{"Id":"C"}`,
	}, Options{})

	if p.Docs != 3 {
		t.Fatalf("Docs = %d, want 3", p.Docs)
	}
	if !p.Root.Column("Id").NotNull {
		t.Fatalf("Id in every document, want NOT NULL")
	}
	if p.Root.Column("Price").NotNull {
		t.Fatalf("Price in 2 of 3 documents, want nullable")
	}
}

// TestSplitNoPrimaryKey covers a table with no identity-pattern column.
func TestSplitNoPrimaryKey(t *testing.T) {
	t.Parallel()

	n, err := profile.Profile(map[string]any{"Name": "x", "Price": int64(1)})
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	p, err := Split(n, 1, Options{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if pk := p.Root.PrimaryKey(); pk != nil {
		t.Fatalf("primary key = %+v, want none", pk)
	}
}

// TestSplitTimestampColumn verifies the synthetic timestamp column lands
// last on the root table.
func TestSplitTimestampColumn(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{`{"Id":"A","Price":"1"}`}, Options{TimestampColumn: "ComputedLastUpdated"})

	cols := columnNames(p.Root)
	if cols[len(cols)-1] != "ComputedLastUpdated" {
		t.Fatalf("columns = %v, want timestamp last", cols)
	}
	ts := p.Root.Column("ComputedLastUpdated")
	if !ts.NotNull || ts.Path != "" || ts.Counts != nil {
		t.Fatalf("timestamp column = %+v", ts)
	}
	if p.Timestamp != "ComputedLastUpdated" {
		t.Fatalf("plan timestamp = %q", p.Timestamp)
	}
}

// TestSplitMinimal verifies the keep-lists: root columns intersect with the
// configured set (primary key and timestamp always kept) and unlisted child
// tables stop emitting.
func TestSplitMinimal(t *testing.T) {
	t.Parallel()

	docs := []string{
		`{"Id":"A","Price":"1","Size":"2","Phones":[{"PhoneNumber":"5"}],"Rooms":[{"RoomId":1,"Level":"1"}]}`,
	}
	p := buildPlan(t, docs, Options{
		Columns:         []string{"Price"},
		Tables:          []string{"Rooms"},
		TimestampColumn: "ComputedLastUpdated",
	})

	want := []string{"Id", "Price", "ComputedLastUpdated"}
	if got := columnNames(p.Root); !namesEqual(got, want) {
		t.Fatalf("minimal root columns = %v, want %v", got, want)
	}
	if p.TableByName("Rooms").Emit == false {
		t.Fatalf("listed table must emit")
	}
	if p.TableByName("Phones").Emit {
		t.Fatalf("unlisted table must not emit")
	}
}

// TestSplitForeignKeyMode verifies the stricter linkage: the child gains a
// REFERENCES column named after the parent's key and the parent's reference
// column disappears.
func TestSplitForeignKeyMode(t *testing.T) {
	t.Parallel()

	p := buildPlan(t, []string{
		`{"Id":"A","Phones":[{"PhoneNumber":"555"}]}`,
	}, Options{Link: LinkForeignKey})

	if p.Root.Column("Phones") != nil {
		t.Fatalf("parent kept its reference column: %v", columnNames(p.Root))
	}
	phones := p.TableByName("Phones")
	fk := phones.Column("Listings_Id")
	if fk == nil || fk.RefTable != "Listings" || fk.RefColumn != "Id" || !fk.NotNull {
		t.Fatalf("foreign key column = %+v", fk)
	}
	if phones.ForeignKey != "Listings_Id" {
		t.Fatalf("ForeignKey = %q", phones.ForeignKey)
	}
}

// TestSplitEmptyCorpus verifies an empty corpus yields an empty plan.
func TestSplitEmptyCorpus(t *testing.T) {
	t.Parallel()

	p, err := Split(nil, 0, Options{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(p.Tables) != 0 || p.Root != nil {
		t.Fatalf("plan = %+v, want empty", p)
	}
	if _, err := p.SplitRows(map[string]any{}); err == nil {
		t.Fatalf("SplitRows on an empty plan must fail")
	}
}
