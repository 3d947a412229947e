package asyncinit

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

var errUnit = errors.New("unit has failed")

// journal records the order in which units start and finish.
type journal struct {
	sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	j.Lock()
	defer j.Unlock()
	j.events = append(j.events, event)
}

func (j *journal) snapshot() []string {
	j.Lock()
	defer j.Unlock()
	return append([]string(nil), j.events...)
}

// index returns the position of event in the journal, or -1.
func (j *journal) index(event string) int {
	for i, e := range j.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

// NoOp returns a unit that does nothing.
func NoOp(typ Type) Unit {
	return Func(typ, func(context.Context) error { return nil })
}

// ErrOp returns a unit that fails with errUnit.
func ErrOp(typ Type) Unit {
	return Func(typ, func(context.Context) error { return errUnit })
}

// PanicOp returns a unit that panics.
func PanicOp(typ Type) Unit {
	return Func(typ, func(context.Context) error { panic(errUnit.Error()) })
}

// logged returns a unit that notes its start and finish in j, running fn in between.
func logged(j *journal, typ Type, fn func(ctx context.Context) error) Unit {
	return Func(typ, func(ctx context.Context) error {
		j.add("start " + string(typ))
		err := fn(ctx)
		j.add("end " + string(typ))
		return err
	})
}

// gate returns a unit that blocks until release is closed or ctx is cancelled.
func gate(j *journal, typ Type, release <-chan struct{}) Unit {
	return logged(j, typ, func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// named is a unit with a concrete Go type, for checking TypeOf.
type named struct{ _ byte }

func (*named) Initialize(context.Context) error { return nil }

// valueUnit is a comparable non-pointer unit.
type valueUnit struct{ id int }

func (valueUnit) Initialize(context.Context) error { return nil }

// sliceUnit is a unit whose dynamic type is not comparable.
type sliceUnit []int

func (sliceUnit) Initialize(context.Context) error { return nil }

// boxUnit has a comparable type, but comparing two of them panics when payload holds an uncomparable value.
type boxUnit struct{ payload interface{} }

func (boxUnit) Initialize(context.Context) error { return nil }

// holdHandler discards records, but blocks on the one with message msg until release is closed.
type holdHandler struct {
	msg     string
	release <-chan struct{}
}

func (h *holdHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *holdHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		<-h.release
	}
	return nil
}

func (h *holdHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *holdHandler) WithGroup(string) slog.Handler { return h }

func verifyNilErr(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func verifyErrorAs(t *testing.T, err error, target interface{}) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error of type %T, got nil", target)
	}
	if !errors.As(err, target) {
		t.Fatalf("expected error of type %T, got %T(%s)", target, err, err.Error())
	}
}

func verifyStringEquals(t *testing.T, expected, actual string) {
	t.Helper()

	if expected != actual {
		t.Fatalf("expected %q to equal %q", actual, expected)
	}
}

func verifyStatus(t *testing.T, expected, actual Status) {
	t.Helper()

	if expected != actual {
		t.Fatalf("expected status %s, got %s", expected, actual)
	}
}

func verifyPriorities(t *testing.T, expected []int, records []Record) {
	t.Helper()

	actual := make([]int, len(records))
	for i, rec := range records {
		actual[i] = rec.Priority
	}
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected priorities %v, got %v", expected, actual)
	}
}

func verifyTypes(t *testing.T, expected []Type, records []Record) {
	t.Helper()

	actual := make([]Type, len(records))
	for i, rec := range records {
		actual[i] = rec.Type
	}
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected types %v, got %v", expected, actual)
	}
}

func verifyPanicWithMsg(t *testing.T, expected string) {
	t.Helper()

	err := recover()
	if err == nil {
		t.Fatal("expected a panic")
	}
	actual, ok := err.(string)
	if !ok {
		t.Fatalf("expected to panic with string, got %v", reflect.TypeOf(err).String())
	}
	if actual != expected {
		t.Fatalf("expected panic message to equal %q, got %q", expected, actual)
	}
}

// waitDone fails the test if the manager's run doesn't finish within a second.
func waitDone(t *testing.T, m *Manager) {
	t.Helper()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}
