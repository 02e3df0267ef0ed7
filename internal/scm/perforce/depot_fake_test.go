package perforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"depotci/internal/scm"
)

// fakeDepot records every call and answers from canned state.
type fakeDepot struct {
	calls []string

	failOn    map[string]error
	client    ClientSpec
	upToDate  bool
	unchanged map[string]bool
	changes   []scm.Change
	submitted []string
	changeNum string
	zone      *time.Location
}

func newFakeDepot() *fakeDepot {
	return &fakeDepot{
		failOn:    map[string]error{},
		unchanged: map[string]bool{},
		changeNum: "42",
	}
}

func (f *fakeDepot) record(call string) error {
	f.calls = append(f.calls, call)
	name := strings.Fields(call)[0]
	return f.failOn[name]
}

func (f *fakeDepot) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeDepot) Connect(context.Context) error     { return f.record("connect") }
func (f *fakeDepot) Disconnect(context.Context) error  { return f.record("disconnect") }
func (f *fakeDepot) Login(context.Context) error       { return f.record("login") }
func (f *fakeDepot) Logout(context.Context) error      { return f.record("logout") }
func (f *fakeDepot) TrustReset(context.Context) error  { return f.record("trust-reset") }
func (f *fakeDepot) TrustAccept(context.Context) error { return f.record("trust-accept") }

func (f *fakeDepot) FetchClient(_ context.Context, name string) (ClientSpec, error) {
	if err := f.record("fetch-client " + name); err != nil {
		return nil, err
	}
	spec := ClientSpec{FieldClient: name, "Owner": "builder"}
	for k, v := range f.client {
		spec[k] = v
	}
	return spec, nil
}

func (f *fakeDepot) SaveClient(_ context.Context, spec ClientSpec) error {
	if err := f.record("save-client " + spec[FieldClient]); err != nil {
		return err
	}
	f.client = ClientSpec{}
	for k, v := range spec {
		f.client[k] = v
	}
	return nil
}

func (f *fakeDepot) UseClient(name string) {
	f.calls = append(f.calls, "use-client "+name)
}

func (f *fakeDepot) Sync(_ context.Context, req SyncRequest) (SyncOutcome, error) {
	call := fmt.Sprintf("sync dry=%t force=%t target=%s", req.DryRun, req.Force, req.Target)
	if err := f.record(call); err != nil {
		return SyncNeedsAction, err
	}
	if f.upToDate {
		return SyncUpToDate, nil
	}
	if !req.DryRun {
		f.upToDate = true
	}
	return SyncNeedsAction, nil
}

func (f *fakeDepot) Reconcile(_ context.Context, dryRun bool, path string) (ReconcileOutcome, error) {
	if err := f.record(fmt.Sprintf("reconcile dry=%t %s", dryRun, path)); err != nil {
		return Reconciled, err
	}
	if f.unchanged[path] {
		return NothingToReconcile, nil
	}
	return Reconciled, nil
}

func (f *fakeDepot) Submit(_ context.Context, message string, files []string) (string, error) {
	if err := f.record("submit " + message); err != nil {
		return "", err
	}
	f.submitted = append([]string(nil), files...)
	return f.changeNum, nil
}

func (f *fakeDepot) Changes(_ context.Context, path string, max int) ([]scm.Change, error) {
	if err := f.record(fmt.Sprintf("changes %s max=%d", path, max)); err != nil {
		return nil, err
	}
	if max > 0 && len(f.changes) > max {
		return f.changes[:max], nil
	}
	return f.changes, nil
}

func (f *fakeDepot) ServerLocation(context.Context) (*time.Location, error) {
	if err := f.record("server-location"); err != nil {
		return nil, err
	}
	if f.zone == nil {
		return time.Local, nil
	}
	return f.zone, nil
}

func nullLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}
