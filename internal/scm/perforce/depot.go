package perforce

import (
	"context"
	"fmt"
	"time"

	"depotci/internal/scm"
)

// SyncOutcome classifies a sync that did not fail.
type SyncOutcome int

const (
	// SyncNeedsAction means files would be (or were) transferred.
	SyncNeedsAction SyncOutcome = iota
	// SyncUpToDate means the workspace already matches the request.
	SyncUpToDate
)

func (o SyncOutcome) String() string {
	if o == SyncUpToDate {
		return "up_to_date"
	}
	return "needs_action"
}

// ReconcileOutcome classifies a reconcile that did not fail.
type ReconcileOutcome int

const (
	// Reconciled means the file differs from the depot baseline.
	Reconciled ReconcileOutcome = iota
	// NothingToReconcile means the file is unchanged.
	NothingToReconcile
)

func (o ReconcileOutcome) String() string {
	if o == NothingToReconcile {
		return "nothing_to_reconcile"
	}
	return "reconciled"
}

// DepotError carries the detail of an unexpected depot response.
type DepotError struct {
	Op     string
	Detail string
}

func (e *DepotError) Error() string {
	return fmt.Sprintf("p4 %s: %s", e.Op, e.Detail)
}

// Client spec field names.
const (
	FieldClient  = "Client"
	FieldRoot    = "Root"
	FieldStream  = "Stream"
	FieldOptions = "Options"
)

// ClientSpec is a workspace definition keyed by spec field name.
type ClientSpec map[string]string

// SyncRequest describes one sync call. Target is empty for "everything in
// the workspace at head".
type SyncRequest struct {
	DryRun bool
	Force  bool
	Target string
}

// Depot is the boundary to the depot server. Benign no-op responses are
// reported as outcomes; anything unexpected is returned as an error, usually
// a *DepotError.
type Depot interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	TrustReset(ctx context.Context) error
	TrustAccept(ctx context.Context) error

	FetchClient(ctx context.Context, name string) (ClientSpec, error)
	SaveClient(ctx context.Context, spec ClientSpec) error
	// UseClient makes name the workspace for subsequent calls.
	UseClient(name string)

	Sync(ctx context.Context, req SyncRequest) (SyncOutcome, error)
	Reconcile(ctx context.Context, dryRun bool, path string) (ReconcileOutcome, error)
	// Submit submits exactly files and returns the submitted change number.
	Submit(ctx context.Context, message string, files []string) (string, error)
	// Changes lists at most max changes (0 for no limit) matching path.
	Changes(ctx context.Context, path string, max int) ([]scm.Change, error)
	// ServerLocation is the time zone the server reads date revision
	// specifiers in.
	ServerLocation(ctx context.Context) (*time.Location, error)
}
