package psi

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/params"
	"github.com/optable/hepsi/pkg/receiver"
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

// serve runs Serve on one end of a pipe and returns the other end along with
// the channel Serve reports on
func serve(t *testing.T, db *sender.DB) (net.Conn, <-chan error) {
	t.Helper()
	s, c := net.Pipe()
	errs := make(chan error, 1)
	go func() {
		defer s.Close()
		errs <- Serve(context.Background(), db, s)
	}()
	return c, errs
}

func TestQuery(t *testing.T) {
	db, err := sender.NewDB(testParams())
	assert.NilError(t, err)
	assert.NilError(t, db.InsertOrAssign(context.Background(), item.FromStrings(senderNames), nil))

	conn, errs := serve(t, db)
	client := NewClient(conn)
	records, err := client.Query(context.Background(), item.FromStrings(queryNames))
	assert.NilError(t, err)
	assert.Equal(t, len(records), len(queryNames))
	for i, want := range []bool{false, true, false, true} {
		assert.Equal(t, records[i].Found, want, queryNames[i])
	}

	// a second query on the same connection reuses the parameters
	records, err = client.Query(context.Background(), item.FromStrings([]string{"Gilbert"}))
	assert.NilError(t, err)
	assert.Assert(t, records[0].Found)

	conn.Close()
	assert.NilError(t, <-errs)
}

func TestLabeledQuery(t *testing.T) {
	ctx := context.Background()
	db, err := sender.NewDB(testParams(), sender.WithLabels())
	assert.NilError(t, err)
	labels := make([]item.Label, len(senderNames))
	for i, s := range senderNames {
		labels[i] = item.Label("id:" + s)
	}
	assert.NilError(t, db.InsertOrAssign(ctx, item.FromStrings(senderNames), labels))

	conn, errs := serve(t, db)
	client := NewClient(conn)
	p, err := client.RequestParams(ctx)
	assert.NilError(t, err)
	assert.Equal(t, p.Fingerprint(), db.Params().Fingerprint())

	hashed, keys, err := client.RequestOPRF(ctx, item.FromStrings(queryNames))
	assert.NilError(t, err)
	assert.Equal(t, len(hashed), len(queryNames))
	records, err := client.RequestQuery(ctx, hashed, keys)
	assert.NilError(t, err)

	n := p.Item.LabelByteCount
	assert.Assert(t, !records[0].Found)
	assert.DeepEqual(t, []byte(records[1].Label), item.Label("id:Charlie").Pad(n))
	assert.DeepEqual(t, []byte(records[3].Label), item.Label("id:Eve").Pad(n))

	conn.Close()
	assert.NilError(t, <-errs)
}

func TestEmptyQuery(t *testing.T) {
	db, err := sender.NewDB(testParams())
	assert.NilError(t, err)

	conn, errs := serve(t, db)
	records, err := NewClient(conn).Query(context.Background(), nil)
	assert.NilError(t, err)
	assert.Equal(t, len(records), 0)

	conn.Close()
	assert.NilError(t, <-errs)
}

func TestQueryWithStaleParameters(t *testing.T) {
	ctx := context.Background()
	db, err := sender.NewDB(testParams())
	assert.NilError(t, err)
	assert.NilError(t, db.InsertOrAssign(ctx, item.FromStrings(senderNames), nil))

	conn, errs := serve(t, db)
	defer conn.Close()
	client := NewClient(conn)
	hashed, _, err := client.RequestOPRF(ctx, item.FromStrings(queryNames))
	assert.NilError(t, err)

	// the client now believes in a different hash seed
	stale := testParams()
	stale.Table.HashSeed = "stale"
	client.receiver, err = receiver.New(stale)
	assert.NilError(t, err)

	_, err = client.RequestQuery(ctx, hashed, nil)
	assert.Assert(t, err != nil)
	assert.Assert(t, errors.Is(<-errs, ErrParameterMismatch))
}
