// black box testing of labeled PSI over tcp
package psi_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/params"
	"github.com/optable/hepsi/pkg/psi"
	"github.com/optable/hepsi/pkg/sender"
	"github.com/optable/hepsi/test/items"
)

// collect drains a mixed identifier stream
func collect(common []byte, n int) (ids [][]byte) {
	for id := range items.Mix(common, n) {
		ids = append(ids, id)
	}
	return
}

func normalize(ids [][]byte) []item.Item {
	out := make([]item.Item, len(ids))
	for i, id := range ids {
		out[i] = item.New(id)
	}
	return out
}

// senderInit loads a database and serves it on a local port, it returns the
// addr string
func senderInit(common []byte, s test_size, labeled bool, errs chan<- error) (addr string, err error) {
	var opts []sender.Option
	if labeled {
		opts = append(opts, sender.WithLabels())
	}
	db, err := sender.NewDB(params.Default(), opts...)
	if err != nil {
		return "", err
	}
	ids := collect(common, s.senderLen-s.commonLen)
	var labels []item.Label
	if labeled {
		for _, id := range ids {
			labels = append(labels, items.Label(id))
		}
	}
	if err := db.InsertOrAssign(context.Background(), normalize(ids), labels); err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return "", err
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			errs <- err
			return
		}
		defer conn.Close()
		if err := psi.Serve(context.Background(), db, conn); err != nil {
			errs <- err
		}
	}()
	return ln.Addr().String(), nil
}

// testReceiver queries addr and checks that exactly the common identifiers
// are found
func testReceiver(addr string, common []byte, s test_size, labeled bool) error {
	shared := make(map[string]bool)
	for _, id := range items.Identifiers(common) {
		shared[string(id)] = true
	}
	ids := collect(common, s.receiverLen-s.commonLen)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	records, err := psi.NewClient(conn).Query(context.Background(), normalize(ids))
	if err != nil {
		return err
	}
	if len(records) != len(ids) {
		return fmt.Errorf("expected %d records, got %d", len(ids), len(records))
	}

	var found int
	for i, r := range records {
		if r.Found != shared[string(ids[i])] {
			return fmt.Errorf("identifier %s: expected found %v", ids[i], shared[string(ids[i])])
		}
		if !r.Found {
			continue
		}
		found++
		if !labeled {
			if r.Label != nil {
				return fmt.Errorf("identifier %s: unexpected label", ids[i])
			}
			continue
		}
		if want := items.Label(ids[i]); !bytes.Equal(bytes.TrimRight(r.Label, "\x00"), want) {
			return fmt.Errorf("identifier %s: expected label %s, got %s", ids[i], want, r.Label)
		}
	}
	if found != s.commonLen {
		return fmt.Errorf("expected %d matches, got %d", s.commonLen, found)
	}
	return nil
}

func testScenarios(t *testing.T, labeled bool) {
	var errs = make(chan error, len(test_sizes))
	for _, s := range test_sizes {
		t.Logf("testing scenario %s", s.scenario)
		// generate common data
		common := items.Common(s.commonLen)
		addr, err := senderInit(common, s, labeled, errs)
		if err != nil {
			t.Fatalf("%s: %v", s.scenario, err)
		}

		if err := testReceiver(addr, common, s, labeled); err != nil {
			t.Fatalf("%s: %v", s.scenario, err)
		}

		// errors?
		select {
		case err := <-errs:
			t.Fatalf("%s: %v", s.scenario, err)
		default:
		}
	}
}

func TestUnlabeled(t *testing.T) {
	testScenarios(t, false)
}

func TestLabeled(t *testing.T) {
	testScenarios(t, true)
}
