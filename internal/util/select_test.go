package util

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var (
	err1 = fmt.Errorf("this is an error")
)

func TestSelValue(t *testing.T) {
	v, err := SelValue(context.Background(), func() (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("expected 42, got %d, %v", v, err)
	}

	_, err = SelValue(context.Background(), func() (int, error) {
		return 0, err1
	})
	if err != err1 {
		t.Errorf("expected %v, got %v", err1, err)
	}

	// check context canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SelValue(ctx, func() (int, error) { return 0, err1 }); err != context.Canceled && err != err1 {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Second/10)
	defer cancel()
	v, err = SelValue(ctx, func() (int, error) {
		time.Sleep(time.Second)
		return 42, nil
	})
	if err != context.DeadlineExceeded || v != 0 {
		t.Errorf("expected a zero value and context.DeadlineExceeded, got %d, %v", v, err)
	}
}
