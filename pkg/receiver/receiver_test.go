package receiver

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/network"
	"github.com/optable/hepsi/pkg/params"
	"github.com/optable/hepsi/pkg/sender"
	"gotest.tools/assert"
)

var (
	senderNames = []string{"Alice", "Bob", "Charlie", "Daniel", "Eve", "Fazila", "Gilbert"}
	queryNames  = []string{"Amir", "Charlie", "Danny", "Eve"}
)

func testParams() *params.Params {
	p := params.Default()
	p.Table.BundleCount = 1
	p.Table.MaxItemsPerBin = 4
	p.Query.Powers = []int{1, 2}
	return p
}

func labelsFor(ss []string, prefix string) []item.Label {
	labels := make([]item.Label, len(ss))
	for i, s := range ss {
		labels[i] = item.Label(prefix + s)
	}
	return labels
}

// session runs both rounds in process, the query round over a buffered
// stream channel
type session struct {
	t  *testing.T
	db *sender.DB
	r  *Receiver
}

func newSession(t *testing.T, labeled bool) *session {
	t.Helper()
	var opts []sender.Option
	if labeled {
		opts = append(opts, sender.WithLabels())
	}
	db, err := sender.NewDB(testParams(), opts...)
	assert.NilError(t, err)
	var labels []item.Label
	if labeled {
		labels = labelsFor(senderNames, "label-")
	}
	assert.NilError(t, db.InsertOrAssign(context.Background(), item.FromStrings(senderNames), labels))

	r, err := New(testParams())
	assert.NilError(t, err)
	return &session{t: t, db: db, r: r}
}

func (s *session) hash(names []string) ([]item.HashedItem, []item.LabelKey) {
	s.t.Helper()
	ctx := context.Background()
	or, err := s.r.CreateOPRFReceiver(ctx, item.FromStrings(names))
	assert.NilError(s.t, err)
	evaluated, err := s.db.Key().Evaluate(ctx, nil, CreateOPRFRequest(or).Elements)
	assert.NilError(s.t, err)
	hashed, keys, err := s.r.ExtractHashes(ctx, or, &network.OPRFResponse{Elements: evaluated})
	assert.NilError(s.t, err)
	return hashed, keys
}

func (s *session) parts(hashed []item.HashedItem) (*IndexTranslationTable, []*network.ResultPart) {
	s.t.Helper()
	ctx := context.Background()
	req, itt, err := s.r.CreateQuery(ctx, hashed)
	assert.NilError(s.t, err)
	q, err := sender.NewQuery(ctx, req, s.db)
	assert.NilError(s.t, err)

	var buf bytes.Buffer
	ch := network.NewStreamChannel(&buf)
	assert.NilError(s.t, sender.RunQuery(ctx, q, ch))
	parts, err := s.r.ReceiveResults(ctx, ch, itt)
	assert.NilError(s.t, err)
	return itt, parts
}

func (s *session) query(names []string) []MatchRecord {
	s.t.Helper()
	hashed, keys := s.hash(names)
	itt, parts := s.parts(hashed)
	records, err := s.r.ProcessResult(context.Background(), keys, itt, parts)
	assert.NilError(s.t, err)
	assert.Equal(s.t, len(records), len(names))
	return records
}

func found(records []MatchRecord) []bool {
	out := make([]bool, len(records))
	for i, r := range records {
		out[i] = r.Found
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	s := newSession(t, false)
	records := s.query(queryNames)
	assert.DeepEqual(t, found(records), []bool{false, true, false, true})
	for _, r := range records {
		assert.Assert(t, r.Label == nil)
	}
}

func TestEveryInsertedItemIsFound(t *testing.T) {
	s := newSession(t, false)
	records := s.query(senderNames)
	for i, r := range records {
		assert.Assert(t, r.Found, senderNames[i])
	}
}

func TestOrderAndDuplicates(t *testing.T) {
	s := newSession(t, false)
	records := s.query([]string{"Eve", "Amir", "Eve", "Gilbert", "Amir"})
	assert.DeepEqual(t, found(records), []bool{true, false, true, true, false})
}

func TestLabels(t *testing.T) {
	s := newSession(t, true)
	n := s.db.Params().Item.LabelByteCount
	records := s.query(queryNames)
	assert.DeepEqual(t, found(records), []bool{false, true, false, true})
	assert.DeepEqual(t, []byte(records[1].Label), item.Label("label-Charlie").Pad(n))
	assert.DeepEqual(t, []byte(records[3].Label), item.Label("label-Eve").Pad(n))
	assert.Assert(t, records[0].Label == nil)
}

func TestUpdateLabel(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, true)
	n := s.db.Params().Item.LabelByteCount

	assert.NilError(t, s.db.InsertOrAssign(ctx, item.FromStrings([]string{"Charlie"}), []item.Label{item.Label("fresh")}))
	assert.Equal(t, s.db.Len(), len(senderNames))

	records := s.query([]string{"Charlie", "Eve"})
	assert.DeepEqual(t, []byte(records[0].Label), item.Label("fresh").Pad(n))
	assert.DeepEqual(t, []byte(records[1].Label), item.Label("label-Eve").Pad(n))
}

func TestRemoveThenQuery(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, false)
	assert.NilError(t, s.db.Remove(ctx, item.FromStrings([]string{"Eve"})))
	assert.DeepEqual(t, found(s.query(queryNames)), []bool{false, true, false, false})
}

func TestIdempotence(t *testing.T) {
	s := newSession(t, true)
	first := s.query(queryNames)
	second := s.query(queryNames)
	assert.DeepEqual(t, first, second)
}

func TestIndexTranslationTable(t *testing.T) {
	s := newSession(t, false)
	hashed, _ := s.hash([]string{"Amir", "Eve", "Amir"})
	req, itt, err := s.r.CreateQuery(context.Background(), hashed)
	assert.NilError(t, err)
	assert.Equal(t, itt.ItemCount(), 3)
	assert.Equal(t, itt.RowCount(), len(req.Rows))

	// every item sits under each of its distinct candidate bins
	bins := s.r.params.BinsPerBundle()
	for i, h := range hashed {
		for _, loc := range s.r.locator.Locations(h) {
			hit := false
			for _, row := range itt.Rows() {
				for _, idx := range itt.Lookup(Coordinate{Bundle: loc / bins, Row: row.Row, Bin: loc % bins}) {
					hit = hit || idx == i
				}
			}
			assert.Assert(t, hit, "item %d missing from bin %d", i, loc)
		}
	}

	// rows never probe a bin twice
	for _, row := range itt.Rows() {
		seen := map[int]bool{}
		for _, c := range itt.Coordinates(row) {
			assert.Assert(t, !seen[c.Bin])
			seen[c.Bin] = true
		}
	}
}

func TestCryptoFailureIsLocal(t *testing.T) {
	s := newSession(t, false)
	hashed, keys := s.hash(queryNames)
	itt, parts := s.parts(hashed)

	// an extra garbled part for a known row and one for an unknown row
	garbled := &network.ResultPart{Bundle: parts[0].Bundle, Row: parts[0].Row, Membership: []byte("garbage")}
	stray := &network.ResultPart{Bundle: 0, Row: 99, Membership: parts[0].Membership}
	records, err := s.r.ProcessResult(context.Background(), keys, itt, append(parts, garbled, stray))
	assert.Assert(t, errors.Is(err, ErrCryptoFailure), err)
	assert.DeepEqual(t, found(records), []bool{false, true, false, true})

	streamed := make([]MatchRecord, len(queryNames))
	for _, part := range parts {
		assert.NilError(t, s.r.ProcessResultPart(keys, itt, part, streamed))
	}
	assert.DeepEqual(t, streamed, records)
	assert.Assert(t, errors.Is(s.r.ProcessResultPart(keys, itt, garbled, streamed), ErrCryptoFailure))
}

func TestReceiveResultsRejectsWrongRows(t *testing.T) {
	r, err := New(testParams())
	assert.NilError(t, err)
	itt := newIndexTranslationTable(2)
	itt.add(Coordinate{Bundle: 0, Row: 0, Bin: 3}, []int{0})
	itt.add(Coordinate{Bundle: 0, Row: 1, Bin: 3}, []int{1})

	for name, rows := range map[string][]Row{
		"repeated": {{0, 0}, {0, 0}},
		"unknown":  {{0, 0}, {0, 7}},
	} {
		var buf bytes.Buffer
		ch := network.NewStreamChannel(&buf)
		assert.NilError(t, ch.Send(&network.QueryResponse{PartCount: len(rows)}))
		for _, row := range rows {
			assert.NilError(t, ch.Send(&network.ResultPart{Bundle: row.Bundle, Row: row.Row}))
		}
		_, err := r.ReceiveResults(context.Background(), ch, itt)
		assert.Assert(t, errors.Is(err, network.ErrMalformedMessage), "%s: %v", name, err)
	}

	var buf bytes.Buffer
	ch := network.NewStreamChannel(&buf)
	assert.NilError(t, ch.Send(&network.QueryResponse{PartCount: 2}))
	assert.NilError(t, ch.Send(&network.ResultPart{Bundle: 0, Row: 1}))
	assert.NilError(t, ch.Send(&network.ResultPart{Bundle: 0, Row: 0}))
	parts, err := r.ReceiveResults(context.Background(), ch, itt)
	assert.NilError(t, err)
	assert.Equal(t, len(parts), 2)
}

func TestParameterMismatch(t *testing.T) {
	s := newSession(t, false)
	p := testParams()
	p.Table.HashSeed = "elsewhere"
	other, err := New(p)
	assert.NilError(t, err)

	hashed, _ := s.hash(queryNames)
	req, _, err := other.CreateQuery(context.Background(), hashed)
	assert.NilError(t, err)
	_, err = sender.NewQuery(context.Background(), req, s.db)
	assert.Assert(t, errors.Is(err, sender.ErrParameterMismatch), err)
}

func TestMalformedOPRFResponse(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, false)
	or, err := s.r.CreateOPRFReceiver(ctx, item.FromStrings(queryNames))
	assert.NilError(t, err)

	_, _, err = s.r.ExtractHashes(ctx, or, &network.OPRFResponse{Elements: [][]byte{{1}}})
	assert.Assert(t, errors.Is(err, network.ErrMalformedMessage), err)
}
